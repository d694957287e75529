package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/compose"
	"github.com/sydlexius/massaction/internal/massaction"
)

const (
	localPollInterval  = 200 * time.Millisecond
	remotePollInterval = time.Second
)

var errCancelled = errors.New("batch cancelled")

type runOptions struct {
	ids         string
	idsFile     string
	sets        []string
	batchSize   int
	concurrency int
	remote      bool
	deleted     bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <itemtype> <action>",
		Short: "Run a massive action over a set of items",
		Long: `Run a massive action over a set of items in batches.

The action's parameters are derived from the host's form, seeded with the
form's defaults and overridden with --set. Every required parameter must
have a value before anything is sent.

By default this process splits the items into batches and submits them
through the bridge. With --remote the bridge runs the job instead and this
command only follows it.

Examples:
  massactionctl run Computer MassiveAction:delete --ids 12,13,14
  massactionctl run Computer MassiveAction:update --ids-file ids.txt --set field=states_id --set value=2
  massactionctl run Ticket MassiveAction:add_followup --ids-file - --remote < ids.txt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.InOrStdin(), args[0], args[1], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ids, "ids", "", "item IDs, separated by commas, spaces or semicolons")
	f.StringVar(&opts.idsFile, "ids-file", "", "read item IDs from a file (- for stdin)")
	f.StringArrayVar(&opts.sets, "set", nil, "set an action parameter (name=value, repeatable)")
	f.IntVar(&opts.batchSize, "batch-size", 50, "items per request")
	f.IntVar(&opts.concurrency, "concurrency", 2, "parallel requests (at most 4)")
	f.BoolVar(&opts.remote, "remote", false, "run the job on the bridge")
	f.BoolVar(&opts.deleted, "deleted", false, "the items are in the trash")
	return cmd
}

func (a *app) run(ctx context.Context, stdin io.Reader, itemType, actionKey string, opts runOptions) error {
	ids, err := readIDs(stdin, opts)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("no items provided: use --ids or --ids-file")
	}

	fields, err := a.fields(ctx, itemType, ids, actionKey)
	if err != nil {
		return fmt.Errorf("failed to derive parameters: %w", err)
	}
	values := initialValues(fields)
	if err := applySets(fields, values, opts.sets); err != nil {
		return err
	}
	if err := compose.Validate(fields, values); err != nil {
		var verr *massaction.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("please fill in all required action fields: %s (use --set name=value)",
				strings.Join(verr.Fields, ", "))
		}
		return err
	}
	data := compose.Compose(fields, values)
	a.logger.Debug("composed action data", "itemtype", itemType, "action", actionKey, "items", len(ids), "fields", len(data))

	if opts.remote {
		return a.runRemote(ctx, batch.StartRequest{
			ItemType:    itemType,
			IDs:         ids,
			Action:      actionKey,
			ActionData:  data,
			IsDeleted:   opts.deleted,
			BatchSize:   opts.batchSize,
			Concurrency: opts.concurrency,
		})
	}
	return a.runLocal(ctx, batch.Request{
		ItemType:   itemType,
		IDs:        ids,
		ActionKey:  actionKey,
		ActionData: data,
		IsDeleted:  opts.deleted,
	}, batch.Options{BatchSize: opts.batchSize, Concurrency: opts.concurrency})
}

// readIDs merges --ids with the contents of --ids-file.
func readIDs(stdin io.Reader, opts runOptions) ([]int, error) {
	text := opts.ids
	switch opts.idsFile {
	case "":
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading ids from stdin: %w", err)
		}
		text += "\n" + string(data)
	default:
		data, err := os.ReadFile(opts.idsFile) //nolint:gosec // path from operator flag
		if err != nil {
			return nil, fmt.Errorf("reading ids file: %w", err)
		}
		text += "\n" + string(data)
	}
	return massaction.ParseIDs(text), nil
}

func (a *app) runLocal(ctx context.Context, req batch.Request, opts batch.Options) error {
	interactive := a.isTTY()
	if !interactive {
		var mu sync.Mutex
		opts.OnProgress = func(s batch.Snapshot) {
			if s.Done {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(a.out, progressLine(s))
		}
	}

	engine := batch.NewEngine(a.client, a.logger)
	job, err := engine.Start(ctx, req, opts)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s on %d %s items (%d batches)", req.ActionKey, len(req.IDs), req.ItemType, len(job.Chunks()))

	var snap batch.Snapshot
	if interactive {
		m, err := runProgress(newProgressModel(title, "", localSource{job: job}, localPollInterval))
		if err != nil {
			job.Cancel()
			<-job.Done()
			return err
		}
		snap = m.snap
		if !m.done {
			snap = job.Snapshot()
		}
	} else {
		fmt.Fprintln(a.out, title)
		<-job.Done()
		snap = job.Snapshot()
		fmt.Fprint(a.out, "\n"+summary(snap))
	}
	return outcomeError(snap)
}

func (a *app) runRemote(ctx context.Context, req batch.StartRequest) error {
	job, err := a.client.StartJob(ctx, req)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("job %s: %s on %d %s items", job.ID, req.Action, job.TotalItems, req.ItemType)
	src := remoteSource{client: a.client, jobID: job.ID}

	if a.isTTY() {
		m, err := runProgress(newProgressModel(title, job.ID, src, remotePollInterval))
		if err != nil {
			return err
		}
		if m.err != nil {
			return m.err
		}
		if m.detached {
			return nil
		}
		return outcomeError(m.snap)
	}

	fmt.Fprintln(a.out, title)
	t := time.NewTicker(remotePollInterval)
	defer t.Stop()
	last := -1
	for {
		snap, done, err := src.Poll(ctx)
		if err != nil {
			return err
		}
		if done {
			fmt.Fprint(a.out, "\n"+summary(snap))
			return outcomeError(snap)
		}
		if snap.Processed != last {
			last = snap.Processed
			fmt.Fprintln(a.out, progressLine(snap))
		}
		select {
		case <-ctx.Done():
			fmt.Fprintf(a.out, "Job %s continues in background.\n", job.ID)
			return nil
		case <-t.C:
		}
	}
}

// outcomeError turns an unfinished or partly failed batch into an error so
// scripts see a non-zero exit status.
func outcomeError(s batch.Snapshot) error {
	if s.Cancelled {
		return errCancelled
	}
	if n := len(s.Errors); n > 0 {
		return fmt.Errorf("%d batch(es) failed", n)
	}
	return nil
}
