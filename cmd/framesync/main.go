// Package main runs one event through the FrameSync pipeline against the
// sandbox ledger and prints the execution journal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/root-sector-ltd-and-co-kg/framesync/accounts"
	"github.com/root-sector-ltd-and-co-kg/framesync/audit"
	journalstore "github.com/root-sector-ltd-and-co-kg/framesync/audit/store"
	"github.com/root-sector-ltd-and-co-kg/framesync/config"
	"github.com/root-sector-ltd-and-co-kg/framesync/credentials"
	"github.com/root-sector-ltd-and-co-kg/framesync/crypto"
	"github.com/root-sector-ltd-and-co-kg/framesync/execution"
	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/kms"
	"github.com/root-sector-ltd-and-co-kg/framesync/permission"
	"github.com/root-sector-ltd-and-co-kg/framesync/rules"
	"github.com/root-sector-ltd-and-co-kg/framesync/simulation"
	"github.com/root-sector-ltd-and-co-kg/framesync/storage"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"
	"github.com/root-sector-ltd-and-co-kg/framesync/vault"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type eventFlags struct {
	kind     string
	account  string
	amount   string
	category string
	merchant string
}

func main() {
	var ev eventFlags
	flag.StringVar(&ev.kind, "kind", "transaction", "event kind")
	flag.StringVar(&ev.account, "account", "", "account the event booked against")
	flag.StringVar(&ev.amount, "amount", "0", "signed event amount")
	flag.StringVar(&ev.category, "category", "", "event category")
	flag.StringVar(&ev.merchant, "merchant", "", "event merchant")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, ev); err != nil {
		log.Error().Err(err).Msg("FrameSync run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, ev eventFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(cfg.Level())
	if cfg.LogConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	event, err := ev.event()
	if err != nil {
		return err
	}

	auditLogger := audit.NewZerologAuditLogger()

	// vault
	storeOpts := cfg.Vault.StorageOptions()
	if envelope := cfg.Vault.Envelope(); envelope.Enabled() {
		provider, err := kms.NewProvider(kms.ConfigFromEnvelope(envelope))
		if err != nil {
			return fmt.Errorf("failed to create envelope provider: %w", err)
		}
		if err := provider.HealthCheck(ctx); err != nil {
			return fmt.Errorf("envelope provider unhealthy: %w", err)
		}
		storeOpts.Envelope = provider
	}
	vaultStore, err := storage.Open(ctx, storeOpts)
	if err != nil {
		return fmt.Errorf("failed to open vault storage: %w", err)
	}
	defer vaultStore.Close()

	v, err := vault.New(vaultStore, crypto.NewService(),
		vault.WithIterations(cfg.Vault.Iterations),
		vault.WithAuditLogger(auditLogger),
		vault.WithUnlockLimiter(rate.NewLimiter(rate.Every(cfg.Vault.UnlockInterval), cfg.Vault.UnlockBurst)),
	)
	if err != nil {
		return err
	}
	if cfg.Vault.Password == "" {
		return errors.New("FRAMESYNC_VAULT_PASSWORD is required")
	}
	if err := v.Unlock(ctx, []byte(cfg.Vault.Password)); err != nil {
		return err
	}
	defer v.Lock()

	// credentials and grants
	creds := credentials.NewManager(v)
	if cfg.Permission.SigningKey != "" {
		if err := creds.StoreCredentials(ctx, &types.ConnectorCredentials{
			Connector:  permission.GrantConnector,
			SigningKey: cfg.Permission.SigningKey,
		}); err != nil {
			return err
		}
	}
	grants, err := grantProvider(cfg, v, creds)
	if err != nil {
		return err
	}
	enforcer := permission.NewEnforcer(grants, cfg.Threshold(), auditLogger)

	// rules
	engine, err := rules.NewEngine()
	if err != nil {
		return err
	}
	ruleSource := rules.NewFileSource(engine, cfg.Rules.Path)
	if _, err := ruleSource.Rules(ctx); err != nil {
		return err
	}

	// ledger
	snapshot, err := accounts.LoadSnapshotFile(cfg.SnapshotPath)
	if err != nil {
		return err
	}
	ledger := accounts.NewLedger(snapshot)

	// journal
	journal, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	controller, err := execution.NewController(ledger, ledger, simulation.NewSimulator(), enforcer, journal)
	if err != nil {
		return err
	}
	trigger := execution.NewTrigger(ledger, ruleSource, engine, controller)

	if event.AccountID != "" {
		if err := ledger.Record(event); err != nil {
			return err
		}
	}
	results, err := trigger.HandleEvent(ctx, event)
	if err != nil {
		return err
	}
	log.Info().Int("processed", len(results)).Int("commits", ledger.Commits()).Msg("Event handled")

	if err := journal.Verify(); err != nil {
		return err
	}
	if err := journal.CheckLifecycle(); err != nil {
		return err
	}

	out, err := json.MarshalIndent(controller.GetExecutionHistory(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode execution history: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func (f eventFlags) event() (types.Event, error) {
	amount, err := decimal.NewFromString(f.amount)
	if err != nil {
		return types.Event{}, fmt.Errorf("invalid event amount %q", f.amount)
	}
	return types.Event{
		Kind:      f.kind,
		AccountID: f.account,
		Amount:    amount,
		Category:  f.category,
		Merchant:  f.merchant,
	}, nil
}

func grantProvider(cfg *config.Config, secrets interfaces.SecretReader, creds interfaces.CredentialsManager) (interfaces.GrantProvider, error) {
	if cfg.Permission.GrantToken != "" {
		resolved, err := creds.ResolveCredentials(permission.GrantConnector)
		if err != nil {
			return nil, fmt.Errorf("grant token configured without a signing key: %w", err)
		}
		log.Info().Interface("credentials", credentials.Presence(resolved)).Msg("Using signed grant token")
		return permission.NewJWTGrantProvider(secrets, cfg.Permission.GrantToken, cfg.Permission.GrantIssuer), nil
	}

	perms, err := permission.ParsePermissions(cfg.Permission.Grants)
	if err != nil {
		return nil, err
	}
	log.Info().Int("grants", len(perms)).Msg("Using static grants")
	return permission.NewStaticGrantProvider(perms...), nil
}

func openJournal(ctx context.Context, cfg *config.Config) (*audit.Journal, error) {
	var sinks []interfaces.RecordSink

	if len(cfg.Journal.KafkaBrokers) > 0 {
		sinks = append(sinks, journalstore.NewKafkaSink(cfg.Journal.KafkaBrokers, cfg.Journal.KafkaTopic))
	}
	if cfg.Journal.Mongo {
		sink, err := journalstore.ConnectMongoSink(ctx, cfg.Vault.MongoURI, cfg.Vault.MongoDatabase, cfg.Journal.MongoCollection)
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if cfg.Journal.SQLitePath == "" {
		return audit.NewJournal(sinks...), nil
	}
	sqlite, err := journalstore.OpenSQLite(cfg.Journal.SQLitePath)
	if err != nil {
		closeSinks(sinks)
		return nil, err
	}
	sinks = append([]interfaces.RecordSink{sqlite}, sinks...)
	journal, err := audit.LoadJournal(ctx, sqlite, sinks...)
	if err != nil {
		closeSinks(sinks)
		return nil, err
	}
	return journal, nil
}

func closeSinks(sinks []interfaces.RecordSink) {
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close journal sink")
		}
	}
}
