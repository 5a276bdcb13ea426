// Package broker routes accounts to venue adapters. Venues register under a
// broker id; the directory resolves a configured account to its adapter.
package broker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quantive/signalbridge/internal/domain"
)

// Registry maps broker ids to venue adapters.
type Registry struct {
	mu      sync.RWMutex
	brokers map[string]domain.Broker
	envs    map[string]domain.ExecutionEnvironment
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		brokers: make(map[string]domain.Broker),
		envs:    make(map[string]domain.ExecutionEnvironment),
	}
}

// Register binds a venue adapter to a broker id, along with the execution
// environment its fills belong to. Re-registering an id replaces the adapter.
func (r *Registry) Register(id string, b domain.Broker, env domain.ExecutionEnvironment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.brokers[id] = b
	r.envs[id] = env
}

// Get returns the adapter registered under the broker id.
func (r *Registry) Get(id string) (domain.Broker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.brokers[id]
	if !ok {
		return nil, fmt.Errorf("broker: %q: %w", id, domain.ErrUnknownBroker)
	}
	return b, nil
}

// Environment returns the execution environment of the broker's fills,
// defaulting to live for unknown ids.
func (r *Registry) Environment(id string) domain.ExecutionEnvironment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if env, ok := r.envs[id]; ok {
		return env
	}
	return domain.EnvLive
}

// IDs returns the registered broker ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.brokers))
	for id := range r.brokers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Directory resolves account ids to their broker adapter and account record.
type Directory struct {
	registry *Registry
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

// NewDirectory creates a Directory over the given registry and accounts.
func NewDirectory(registry *Registry, accounts []domain.Account) *Directory {
	byID := make(map[string]domain.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	return &Directory{registry: registry, accounts: byID}
}

// ForAccount resolves an account id to its venue adapter and account record.
// It fails with ErrUnknownAccount for unconfigured accounts,
// ErrAccountInactive for disabled ones, and ErrUnknownBroker when the
// account references a venue that never registered.
func (d *Directory) ForAccount(accountID string) (domain.Broker, domain.Account, error) {
	d.mu.RLock()
	account, ok := d.accounts[accountID]
	d.mu.RUnlock()
	if !ok {
		return nil, domain.Account{}, fmt.Errorf("broker: account %q: %w", accountID, domain.ErrUnknownAccount)
	}
	if !account.Active {
		return nil, domain.Account{}, fmt.Errorf("broker: account %q: %w", accountID, domain.ErrAccountInactive)
	}

	b, err := d.registry.Get(account.BrokerID)
	if err != nil {
		return nil, domain.Account{}, err
	}
	return b, account, nil
}

// EnvironmentFor returns the execution environment of the account's broker.
func (d *Directory) EnvironmentFor(account domain.Account) domain.ExecutionEnvironment {
	return d.registry.Environment(account.BrokerID)
}

// Accounts returns all configured accounts.
func (d *Directory) Accounts() []domain.Account {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Account, 0, len(d.accounts))
	for _, a := range d.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
