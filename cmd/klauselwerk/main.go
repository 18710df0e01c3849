// Command klauselwerk runs the contract core end to end against in-memory
// stores: seed a clause library, walk the publishing lifecycle, assemble a
// contract and complete it. Useful as a smoke check and as executable
// documentation of the API.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/klauselwerk/core/pkg/assembly"
	"github.com/klauselwerk/core/pkg/audit"
	"github.com/klauselwerk/core/pkg/content"
	"github.com/klauselwerk/core/pkg/packloader"
	"github.com/klauselwerk/core/pkg/rulegraph"
	"github.com/klauselwerk/core/pkg/snapshot"
	"github.com/klauselwerk/core/pkg/tenants"
	"github.com/klauselwerk/core/pkg/validation"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "klauselwerk: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out *os.File) error {
	fs := flag.NewFlagSet("klauselwerk", flag.ContinueOnError)
	packDir := fs.String("packs", "", "directory of content packs to import")
	dbDSN := fs.String("db", "", "postgres DSN for durable stores (default: in-memory)")
	auditPath := fs.String("audit-db", "", "sqlite path for the audit trail (default: stdout only)")
	snapshotDir := fs.String("snapshots", "", "directory for completed-contract snapshots")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx := tenants.WithScope(context.Background(), tenants.Scope{
		TenantID: "demo-tenant",
		ActorID:  "demo-admin",
		Admin:    true,
	})

	var auditLog audit.Logger = audit.NewLogger()
	if *auditPath != "" {
		store, err := audit.OpenSQLiteStore(*auditPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		auditLog = store
	}

	var store content.Store = content.NewMemoryStore()
	var contracts assembly.Store = assembly.NewMemoryStore()
	if *dbDSN != "" {
		db, err := sql.Open("postgres", *dbDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer func() { _ = db.Close() }()
		versions := content.NewPostgresStore(db)
		if err := versions.Migrate(ctx); err != nil {
			return err
		}
		pinned := assembly.NewPostgresStore(db)
		if err := pinned.Migrate(ctx); err != nil {
			return err
		}
		// Retries plus a circuit breaker in front of the database.
		store = content.NewRetryStore(versions)
		contracts = pinned
	}

	gate, err := content.NewGate(store, rulegraph.GateBuilder())
	if err != nil {
		return err
	}
	lifecycle := content.NewService(store, gate, auditLog).WithReferenceChecker(contracts)

	if *packDir != "" {
		loader, err := packloader.NewLoader()
		if err != nil {
			return err
		}
		packs, err := loader.LoadDir(*packDir)
		if err != nil {
			return err
		}
		for _, pack := range packs {
			if _, err := loader.Apply(ctx, pack, store, lifecycle); err != nil {
				return err
			}
		}
	}

	assemblySvc := assembly.NewService(contracts, store, validation.New(), auditLog)
	if *snapshotDir != "" {
		archive, err := snapshot.NewFileStore(*snapshotDir)
		if err != nil {
			return err
		}
		assemblySvc = assemblySvc.WithArchive(archive)
	}

	pinned, err := walkthrough(ctx, store, lifecycle, assemblySvc)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(pinned)
}

// walkthrough publishes a two-clause library with one template, assembles
// a contract and completes it.
func walkthrough(ctx context.Context, store content.Store, lifecycle *content.Service, assemblySvc *assembly.Service) (*assembly.PinnedContent, error) {
	entities := []*content.LogicalEntity{
		{ID: "clause-liability", Kind: content.KindClause, TenantID: "demo-tenant",
			Title: "Limitation of Liability", CreatedBy: "author-1"},
		{ID: "clause-warranty", Kind: content.KindClause, TenantID: "demo-tenant",
			Title: "Warranty", CreatedBy: "author-1"},
		{ID: "template-services", Kind: content.KindTemplate, TenantID: "demo-tenant",
			Title: "Services Agreement", CreatedBy: "author-1"},
	}
	for _, e := range entities {
		if err := store.CreateEntity(ctx, e); err != nil {
			return nil, err
		}
	}

	drafts := map[string]content.Draft{
		"clause-liability": {
			AuthorID: "author-1",
			Clause:   &content.ClauseBody{Heading: "Limitation of Liability", Text: "Liability is limited to the contract value."},
			Rules: []content.Rule{{
				Type: content.RuleRequires, Severity: content.SeveritySoft,
				Targets: []string{"clause-warranty"},
				Message: "A liability limit should be paired with a warranty clause.",
			}},
		},
		"clause-warranty": {
			AuthorID: "author-1",
			Clause:   &content.ClauseBody{Heading: "Warranty", Text: "The supplier warrants the services for 12 months."},
			Rules: []content.Rule{{
				Type: content.RuleScopedTo, Severity: content.SeverityHard,
				Targets:           []string{"clause-warranty"},
				JurisdictionScope: []string{"DE", "AT"},
				Message:           "This warranty wording is only valid in DE and AT.",
			}},
		},
		"template-services": {
			AuthorID: "author-1",
			Template: &content.TemplateBody{
				Description: "Standard services agreement",
				Slots: []content.Slot{
					{ID: "slot-liability", Title: "Liability", Required: true,
						AllowedEntityIDs: []string{"clause-liability"}, DefaultEntityID: "clause-liability"},
					{ID: "slot-warranty", Title: "Warranty", Required: false,
						AllowedEntityIDs: []string{"clause-warranty"}},
				},
			},
		},
	}

	for _, entityID := range []string{"clause-liability", "clause-warranty", "template-services"} {
		if err := publish(ctx, lifecycle, entityID, drafts[entityID]); err != nil {
			return nil, err
		}
	}

	c, err := assemblySvc.StartContract(ctx, "template-services", "DE")
	if err != nil {
		return nil, err
	}
	if _, err := assemblySvc.SelectSlot(ctx, c.ID, "slot-warranty", "clause-warranty"); err != nil {
		return nil, err
	}
	if _, err := assemblySvc.SetAnswer(ctx, c.ID, "contract_value", 50000); err != nil {
		return nil, err
	}
	if _, err := assemblySvc.Complete(ctx, c.ID); err != nil {
		return nil, err
	}
	return assemblySvc.GetPinnedContent(ctx, c.ID)
}

func publish(ctx context.Context, lifecycle *content.Service, entityID string, draft content.Draft) error {
	v, err := lifecycle.CreateDraft(ctx, entityID, draft)
	if err != nil {
		return err
	}
	if _, err := lifecycle.SubmitForReview(ctx, v.ID, "reviewer-1"); err != nil {
		return err
	}
	_, err = lifecycle.Approve(ctx, v.ID, "reviewer-1")
	return err
}
