package main

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mvallecillo/hogarfin/pkg/ledger"
	"github.com/mvallecillo/hogarfin/pkg/netting"
	"github.com/mvallecillo/hogarfin/pkg/store"
)

func main() {
	cfg := loadConfig()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open store at %s: %v", cfg.DBPath, err)
	}
	defer sqliteStore.Close()

	loans, err := ledger.NewService(sqliteStore, sqliteStore.CollectionLocks, log)
	if err != nil {
		log.Fatalf("Failed to initialize loan service: %v", err)
	}
	loans.SetLockWait(cfg.LockWait)

	net, err := netting.NewService(sqliteStore, sqliteStore.CollectionLocks, log)
	if err != nil {
		log.Fatalf("Failed to initialize netting service: %v", err)
	}
	net.SetLockWait(cfg.LockWait)

	server := NewServer(loans, net, sqliteStore, log)

	// Overdue and finalized are derived from dates, so cached statuses
	// drift overnight even with no writes. The refresh loop keeps the
	// headers honest for listings.
	go func() {
		ticker := time.NewTicker(cfg.RefreshInterval)
		defer ticker.Stop()
		for range ticker.C {
			changed, err := loans.RefreshStatuses()
			if err != nil {
				log.Errorf("Status refresh failed: %v", err)
				continue
			}
			if changed > 0 {
				log.Infof("Status refresh updated %d loans", changed)
			}
		}
	}()

	log.Infof("Server starting on :%s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, server.Router()))
}
