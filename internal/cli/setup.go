package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kinrule/internal/engine"
	"github.com/roach88/kinrule/internal/kintone"
	"github.com/roach88/kinrule/internal/store"
)

// UpdaterOptions configures the kintone client shared by apply and serve.
type UpdaterOptions struct {
	BaseURL  string
	APIToken string
	Username string
	Password string
	Timeout  time.Duration
}

func addUpdaterFlags(cmd *cobra.Command, o *UpdaterOptions) {
	cmd.Flags().StringVar(&o.BaseURL, "base-url", envOr(EnvBaseURL, ""), "kintone base url; empty means dry run (env "+EnvBaseURL+")")
	cmd.Flags().StringVar(&o.APIToken, "api-token", envOr(EnvAPIToken, ""), "kintone api token (env "+EnvAPIToken+")")
	cmd.Flags().StringVar(&o.Username, "username", envOr(EnvUsername, ""), "kintone login name (env "+EnvUsername+")")
	cmd.Flags().StringVar(&o.Password, "password", envOr(EnvPassword, ""), "kintone password (env "+EnvPassword+")")
	cmd.Flags().DurationVar(&o.Timeout, "timeout", kintone.DefaultTimeout, "timeout for one record update")
}

// DryRun reports whether remote updates are computed but not sent.
func (o UpdaterOptions) DryRun() bool {
	return o.BaseURL == ""
}

// Updater builds the kintone client, or nil for a dry run.
func (o UpdaterOptions) Updater() (engine.Updater, error) {
	if o.DryRun() {
		return nil, nil
	}
	client, err := kintone.New(kintone.Config{
		BaseURL:  o.BaseURL,
		APIToken: o.APIToken,
		Username: o.Username,
		Password: o.Password,
		Timeout:  o.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// openAudit opens the audit store and a clock that resumes after its last seq.
func openAudit(ctx context.Context, path string) (*store.Store, *engine.Clock, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	last, err := st.LastSeq(ctx)
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("resume clock: %w", err)
	}
	return st, engine.ResumeClock(last), nil
}
