package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakganji/datasetd/pkg/applog"
	"github.com/sakganji/datasetd/pkg/catalog"
	"github.com/sakganji/datasetd/pkg/commitgraph"
	"github.com/sakganji/datasetd/pkg/config"
	"github.com/sakganji/datasetd/pkg/derive"
	"github.com/sakganji/datasetd/pkg/eventlog"
	"github.com/sakganji/datasetd/pkg/events"
	"github.com/sakganji/datasetd/pkg/importer"
	"github.com/sakganji/datasetd/pkg/jobs"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/permission"
	"github.com/sakganji/datasetd/pkg/query"
	"github.com/sakganji/datasetd/pkg/refregistry"
	"github.com/sakganji/datasetd/pkg/rowstore"
	"github.com/sakganji/datasetd/pkg/searchindex"
	"github.com/sakganji/datasetd/pkg/store"
	"github.com/sakganji/datasetd/server/httpapi"
)

func main() {
	cfg := config.LoadOrDefault()

	bus := events.NewBus()
	db, err := store.Open(store.Options{Dir: cfg.Storage.Dir, InMemory: cfg.Storage.InMemory}, bus)
	if err != nil {
		log.Fatal("open store:", err)
	}
	defer db.Close()

	refs := refregistry.New(db)
	cat := catalog.New(db)
	perm := permission.New(db)
	graph := commitgraph.New(db)
	jobReg := jobs.New(db)
	rows := rowstore.New(db)
	q := query.New(db, graph, refs, rows)
	idx := searchindex.New(db)
	eventLog := eventlog.NewPersister(db)

	bus.Subscribe(eventLog.Handle)
	bus.Subscribe(searchRefreshSubscriber(cat, idx))

	imp := importer.New(db, jobReg, graph, refs, rows, cat, idx, cfg.Import)
	der := derive.New(db, jobReg, graph, refs, rows, q)

	importRuntime, err := importer.NewRuntime(imp, cfg.Worker.Count, cfg.Worker.PollBackoff)
	if err != nil {
		log.Fatal("build import runtime:", err)
	}
	deriveRuntime, err := derive.NewRuntime(der, cfg.Worker.Count, cfg.Worker.PollBackoff)
	if err != nil {
		log.Fatal("build derive runtime:", err)
	}

	handler := httpapi.NewHandler(cat, refs, perm, graph, jobReg, q, imp, der, &cfg.Query)
	srv := httpapi.NewServer(handler, cfg)

	ctx, cancel := context.WithCancel(context.Background())

	workerLog := applog.New("worker")
	go func() {
		if err := importRuntime.Run(ctx); err != nil {
			workerLog.Printf("import runtime stopped: %v", err)
		}
	}()
	go func() {
		if err := deriveRuntime.Run(ctx); err != nil {
			workerLog.Printf("derive runtime stopped: %v", err)
		}
	}()

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(c)
		<-c
		cancel()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Printf("[HTTP] shutdown error: %v", err)
		}
	}()

	fmt.Printf("datasetd listening on %s\n", cfg.ListenAddress())
	if err := srv.Start(); err != nil {
		log.Fatal("server start:", err)
	}
}

// searchRefreshSubscriber reacts to dataset lifecycle events by refreshing
// the search index, mirroring what the importer already does directly via
// importer.SearchRefresher for commit-time events (§4.10).
func searchRefreshSubscriber(cat *catalog.Catalog, idx *searchindex.Index) events.Subscriber {
	return func(e model.Event) {
		switch e.Type {
		case "dataset.created":
			ds, err := cat.Get(context.Background(), e.AggregateID)
			if err != nil {
				return
			}
			_ = idx.Refresh(e.AggregateID, *ds)
		case "dataset.deleted":
			_ = idx.Remove(e.AggregateID)
		}
	}
}
