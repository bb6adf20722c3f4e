// Command audit reconciles materialized account balances against the
// transaction log. It replays every SUCCESS record from zero and compares
// the result to the stored balances, exiting non-zero on any mismatch.
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/retail-banking-sim/ledger-core/internal/config"
	"github.com/retail-banking-sim/ledger-core/internal/db"
	"github.com/retail-banking-sim/ledger-core/internal/domain"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		log.WithError(err).Fatal("failed to create database pool")
	}
	defer pool.Close()

	accountRepo := db.NewAccountRepository(pool.Pool)
	txnRepo := db.NewTransactionRepository(pool.Pool)

	accounts, err := accountRepo.List(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to list accounts")
	}

	txns, err := txnRepo.List(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to list transactions")
	}

	replayed := domain.ReplayBalances(txns)

	mismatches := 0
	for _, account := range accounts {
		expected := replayed[account.ID]
		if !account.Balance.Value.Equal(expected) {
			mismatches++
			log.WithFields(logrus.Fields{
				"account_id": account.ID,
				"stored":     account.Balance.String(),
				"replayed":   expected.StringFixed(2),
			}).Error("balance mismatch")
		}
		delete(replayed, account.ID)
	}

	// Log entries referencing accounts that no longer exist.
	for id, balance := range replayed {
		if balance.IsZero() {
			continue
		}
		mismatches++
		log.WithFields(logrus.Fields{
			"account_id": id,
			"replayed":   balance.StringFixed(2),
		}).Error("log references unknown account with non-zero balance")
	}

	if mismatches > 0 {
		log.WithField("mismatches", mismatches).Error("reconciliation failed")
		os.Exit(1)
	}

	log.WithFields(logrus.Fields{
		"accounts":     len(accounts),
		"transactions": len(txns),
	}).Info("reconciliation passed: all balances match the transaction log")
}
