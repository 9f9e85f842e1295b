package commands

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/cli/styles"
)

// diagnosticTimeout bounds each check that talks to the store.
const diagnosticTimeout = 5 * time.Second

// hashProbe is hashed by both the client and the store to compare results.
const hashProbe = "account-123"

// minimumStoreVersion is the oldest Message DB release whose consumer group
// hashing matches the client.
var minimumStoreVersion = []int{1, 2}

// newDiagnoseCommand creates the diagnose command
func newDiagnoseCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Run diagnostic checks",
		Long: `Run diagnostic checks against the configured message store.

This command verifies:
  • Database connectivity
  • Message DB version
  • Agreement of client and store stream hashing`,
		Aliases: []string{"diag", "doctor"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDiagnose(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

// CheckStatus represents the status of a diagnostic check
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

// CheckResult represents the result of a diagnostic check
type CheckResult struct {
	Name           string
	Status         CheckStatus
	Message        string
	Recommendation string
}

// newCheckResult creates a CheckResult with the given name.
func newCheckResult(name string, status CheckStatus, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message}
}

// withRecommendation adds a recommendation to a CheckResult.
func (r CheckResult) withRecommendation(rec string) CheckResult {
	r.Recommendation = rec
	return r
}

func (a *app) runDiagnose(ctx context.Context, out io.Writer) error {
	fmt.Fprintln(out, styles.Title.Render(styles.IconInfo+" Running Diagnostics"))

	results := []CheckResult{checkConfiguration(a)}

	store, cleanup, err := a.openStore(ctx)
	if err != nil {
		results = append(results, newCheckResult("Database Connection", StatusError, err.Error()).
			withRecommendation("Verify the connection settings in eventide.yaml or MESSAGE_STORE_URL"))
	} else {
		defer cleanup()
		results = append(results,
			newCheckResult("Database Connection", StatusOK, fmt.Sprintf("Driver: %s", a.cfg.Database.Driver)),
			checkStoreVersion(ctx, store),
			checkHashing(ctx, store),
		)
	}

	failed := 0
	for _, r := range results {
		fmt.Fprintf(out, "  %s... ", r.Name)
		switch r.Status {
		case StatusOK:
			fmt.Fprintln(out, styles.SuccessStyle.Render("OK"))
		case StatusWarning:
			fmt.Fprintln(out, styles.WarningStyle.Render("WARNING"))
		default:
			fmt.Fprintln(out, styles.ErrorStyle.Render("FAILED"))
			failed++
		}
		if r.Message != "" {
			fmt.Fprintf(out, "    %s\n", styles.Muted.Render(r.Message))
		}
	}

	fmt.Fprintln(out)

	var recommendations []string
	for _, r := range results {
		if r.Recommendation != "" {
			recommendations = append(recommendations, r.Recommendation)
		}
	}
	if len(recommendations) == 0 {
		fmt.Fprintln(out, styles.FormatSuccess("All checks passed"))
		return nil
	}

	fmt.Fprintln(out, styles.Subtitle.Render("Recommendations:"))
	for _, rec := range recommendations {
		fmt.Fprintf(out, "  %s %s\n", styles.IconArrow, rec)
	}

	if failed > 0 {
		return fmt.Errorf("%d diagnostic checks failed", failed)
	}
	return nil
}

func checkConfiguration(a *app) CheckResult {
	const name = "Configuration"
	db := a.cfg.Database
	if db.Driver == "memory" {
		return newCheckResult(name, StatusWarning, "Using the in-memory driver").
			withRecommendation("Set database.driver to pgx or postgres to use a real message store")
	}
	target := db.URL
	if target == "" {
		target = fmt.Sprintf("%s:%d/%s", db.Host, db.Port, db.Name)
	} else {
		target = "URL"
	}
	return newCheckResult(name, StatusOK, fmt.Sprintf("Driver: %s, Target: %s, Schema: %s", db.Driver, target, db.Schema))
}

func checkStoreVersion(ctx context.Context, store *eventide.MessageStore) CheckResult {
	const name = "Message DB Version"
	ctx, cancel := context.WithTimeout(ctx, diagnosticTimeout)
	defer cancel()

	version, err := store.MessageStoreVersion(ctx)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error()).
			withRecommendation("Install Message DB in the configured database and schema")
	}

	parts := make([]string, len(version))
	for i, v := range version {
		parts[i] = fmt.Sprint(v)
	}
	message := strings.Join(parts, ".")

	if compareVersions(version, minimumStoreVersion) < 0 {
		return newCheckResult(name, StatusWarning, message).
			withRecommendation("Upgrade Message DB to 1.2 or later")
	}
	return newCheckResult(name, StatusOK, message)
}

func checkHashing(ctx context.Context, store *eventide.MessageStore) CheckResult {
	const name = "Stream Hashing"
	ctx, cancel := context.WithTimeout(ctx, diagnosticTimeout)
	defer cancel()

	remote, err := store.StoreHash64(ctx, hashProbe)
	if err != nil {
		return newCheckResult(name, StatusError, err.Error())
	}

	local := eventide.Hash64(hashProbe)
	if remote != local {
		return newCheckResult(name, StatusError, fmt.Sprintf("store %d, client %d", remote, local)).
			withRecommendation("Consumer groups will disagree with the store; check the Message DB version")
	}
	return newCheckResult(name, StatusOK, "Client and store agree")
}

// compareVersions compares dotted version numbers component by component.
func compareVersions(x, y []int) int {
	for i := 0; i < max(len(x), len(y)); i++ {
		var a, b int
		if i < len(x) {
			a = x[i]
		}
		if i < len(y) {
			b = y[i]
		}
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	return 0
}

// NewVersionCommand creates the version command
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, styles.Title.Render(styles.IconStream+" eventide"))
			fmt.Fprintln(out, styles.FormatKeyValue("Version", version))
			fmt.Fprintln(out, styles.FormatKeyValue("Library", eventide.Version()))
			fmt.Fprintln(out, styles.FormatKeyValue("Commit", commit))
			fmt.Fprintln(out, styles.FormatKeyValue("Built", date))
			fmt.Fprintln(out, styles.FormatKeyValue("Go", runtime.Version()))
			fmt.Fprintln(out, styles.FormatKeyValue("OS/Arch", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)))

			return nil
		},
	}
}
