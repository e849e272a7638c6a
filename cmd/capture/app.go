package main

import (
	"github.com/microsearch/drivercapture/internal/allocator"
	"github.com/microsearch/drivercapture/internal/capture"
	"github.com/microsearch/drivercapture/internal/netgate"
	"github.com/microsearch/drivercapture/internal/remote"
	"github.com/microsearch/drivercapture/internal/store"
	capsync "github.com/microsearch/drivercapture/internal/sync"
)

// openStore opens the on-device store and makes sure the schema exists.
func openStore() *store.DB {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		exitf("opening sample store: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		exitf("initializing sample store: %v", err)
	}
	return db
}

func newCaptureService(db *store.DB) *capture.Service {
	svc, err := capture.New(db, allocator.New(db), capture.Config{
		DeviceID:        cfg.DeviceID,
		DriverID:        cfg.DriverID,
		DefaultSupplier: cfg.Capture.DefaultSupplier,
		DefaultCode:     cfg.Capture.DefaultCode,
		UseByWindowDays: cfg.Capture.UseByWindowDays,
		Logger:          sink.Logger("capture"),
	})
	if err != nil {
		exitf("%v (set device_id in the config or CAPTURE_DEVICE_ID)", err)
	}
	return svc
}

// newStatusProvider builds the configured network status source.
func newStatusProvider() netgate.StatusProvider {
	switch cfg.Network.Provider {
	case "file":
		return netgate.NewFileProvider(cfg.Network.StatusFile)
	case "static":
		return netgate.NewStaticProvider(netgate.Status{
			SSID:        cfg.Network.StaticSSID,
			WiFiActive:  cfg.Network.StaticSSID != "",
			WiredActive: cfg.Network.StaticWired,
		})
	default:
		return netgate.NewSystemProvider()
	}
}

func newGate() *netgate.Gate {
	policy := netgate.NewPolicy(cfg.Network.AllowedSSIDs, cfg.Network.TrustWired)
	return netgate.New(newStatusProvider(), policy, sink.Logger("netgate"))
}

func remoteConfig() remote.Config {
	r := cfg.Remote
	return remote.Config{
		Driver:         r.Driver,
		DSN:            r.DSN,
		Host:           r.Host,
		Port:           r.Port,
		User:           r.User,
		Password:       r.Password,
		Database:       r.Database,
		AuthToken:      r.AuthToken,
		Timeout:        r.Timeout,
		ConnectTimeout: r.ConnectTimeout,
	}
}

func openRemote() *remote.Store {
	rem, err := remote.Open(remoteConfig())
	if err != nil {
		exitf("opening remote store: %v", err)
	}
	return rem
}

// newEngine wires the sync engine. onReport may be nil.
func newEngine(db *store.DB, rem *remote.Store, gate *netgate.Gate, onReport func(*capsync.Report)) *capsync.Engine {
	return capsync.New(db, rem, gate, &capsync.Config{
		RecordTimeout: cfg.Sync.RecordTimeout,
		OnReport:      onReport,
		Logger:        sink.Logger("sync"),
	})
}
