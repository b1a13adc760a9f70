package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"facetkit.org/internal/audit"
	"facetkit.org/internal/engine"
	"facetkit.org/internal/facet"
	"facetkit.org/internal/httpapi"
	"facetkit.org/internal/identity"
	"facetkit.org/internal/obs"
	"facetkit.org/internal/store/pg"
	"facetkit.org/internal/store/sqlite"
	"facetkit.org/internal/stream"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("FACETKIT_COMMIT"))

	ctx := context.Background()

	// Storage: Postgres when a DSN is given, in-memory otherwise.
	var (
		store    engine.Store
		auditLog audit.Log
		probe    httpapi.ReadyProbe
		closers  []func() error
	)
	if dsn := os.Getenv("FACETKIT_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		store = pgStore
		auditLog = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		closers = append(closers, pgStore.Close)
	} else {
		store = engine.NewMemoryStore()
		auditLog = audit.NewMemoryLog()
	}

	// A sqlite file beats an in-memory trail for small deployments.
	if path := os.Getenv("FACETKIT_AUDIT_SQLITE"); path != "" {
		sl, err := sqlite.Open(path)
		if err != nil {
			log.Fatalf("open sqlite audit log: %v", err)
		}
		auditLog = sl
		closers = append(closers, sl.Close)
	}

	idp := identity.NewClaimsProvider(staticUsersFromEnv())
	live := stream.New()

	eng, err := engine.New(store, auditLog, idp, engine.WithStream(live))
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	opts := []httpapi.Option{httpapi.WithStream(live)}
	if os.Getenv("FACETKIT_DEV_TOKENS") == "1" {
		opts = append(opts, httpapi.WithTokenIssuing())
	}
	api := httpapi.New(eng, probe, version, opts...)

	addr := os.Getenv("FACETKIT_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting facetkit-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	for _, c := range closers {
		_ = c()
	}
	log.Println("Stopped")
}

// staticUsersFromEnv builds the fallback directory. FACETKIT_USERS lists
// users as "alice:team-a|team-b,bob"; FACETKIT_PRIVILEGED_USERS is a comma
// list of admins.
func staticUsersFromEnv() *identity.StaticProvider {
	p := identity.NewStaticProvider()
	for _, entry := range strings.Split(os.Getenv("FACETKIT_USERS"), ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rawGroups, _ := strings.Cut(entry, ":")
		var groups []facet.GroupRef
		for _, g := range strings.Split(rawGroups, "|") {
			if g = strings.TrimSpace(g); g != "" {
				groups = append(groups, facet.GroupRef(g))
			}
		}
		p.AddUser(facet.UserRef(strings.TrimSpace(name)), groups...)
	}
	for _, name := range strings.Split(os.Getenv("FACETKIT_PRIVILEGED_USERS"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			p.AddPrivileged(facet.UserRef(name))
		}
	}
	return p
}
