package broker

import (
	"errors"
	"testing"

	"github.com/quantive/signalbridge/internal/broker/paper"
	"github.com/quantive/signalbridge/internal/domain"
)

func TestDirectoryForAccount(t *testing.T) {
	reg := NewRegistry()
	sim := paper.New()
	reg.Register("paper", sim, domain.EnvPaper)

	dir := NewDirectory(reg, []domain.Account{
		{ID: "acct-1", BrokerID: "paper", Active: true},
		{ID: "acct-2", BrokerID: "paper", Active: false},
		{ID: "acct-3", BrokerID: "ghost", Active: true},
	})

	t.Run("resolves active account", func(t *testing.T) {
		b, account, err := dir.ForAccount("acct-1")
		if err != nil {
			t.Fatalf("ForAccount: %v", err)
		}
		if b != domain.Broker(sim) {
			t.Fatal("wrong adapter returned")
		}
		if account.BrokerID != "paper" {
			t.Fatalf("account = %+v", account)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		_, _, err := dir.ForAccount("nope")
		if !errors.Is(err, domain.ErrUnknownAccount) {
			t.Fatalf("err = %v, want ErrUnknownAccount", err)
		}
	})

	t.Run("inactive account", func(t *testing.T) {
		_, _, err := dir.ForAccount("acct-2")
		if !errors.Is(err, domain.ErrAccountInactive) {
			t.Fatalf("err = %v, want ErrAccountInactive", err)
		}
	})

	t.Run("unregistered broker", func(t *testing.T) {
		_, _, err := dir.ForAccount("acct-3")
		if !errors.Is(err, domain.ErrUnknownBroker) {
			t.Fatalf("err = %v, want ErrUnknownBroker", err)
		}
	})
}

func TestRegistryEnvironment(t *testing.T) {
	reg := NewRegistry()
	reg.Register("paper", paper.New(), domain.EnvPaper)

	if env := reg.Environment("paper"); env != domain.EnvPaper {
		t.Fatalf("env = %s, want paper", env)
	}
	// Unknown brokers default to live so nothing is accidentally verified as
	// paper.
	if env := reg.Environment("kalshi"); env != domain.EnvLive {
		t.Fatalf("env = %s, want live", env)
	}
}
