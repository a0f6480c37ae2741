package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blacktop/xpub/internal/config"
	"github.com/blacktop/xpub/internal/xpub"
	"github.com/blacktop/xpub/internal/xpub/media"
	"github.com/blacktop/xpub/internal/xpub/publish"
	"github.com/spf13/cobra"
)

var (
	messageFlag  string
	mediaPaths   []string
	altTexts     []string
	targetsFlag  []string
	postInstance string
	dryRun       bool
)

func newPostCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post [message]",
		Short: "Publish a status to one or more platforms",
		Long: "post publishes the same status to every selected platform. Provide the " +
			"message as an argument, with --message or on stdin, and attach up to four --media files.",
		RunE: runPost,
		Example: `  xpub post --message "hello world" --media ./shot.png --alt "terminal screenshot"
  xpub post "Ship it!" --target twitter --target mastodon
  echo "Release shipped" | xpub post --target all`,
	}

	cmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Message text to post")
	cmd.Flags().StringSliceVar(&mediaPaths, "media", nil, "Paths of media files to attach")
	cmd.Flags().StringArrayVar(&altTexts, "alt", nil, "Alternative text for each --media, in order")
	cmd.Flags().StringSliceVar(&targetsFlag, "target", allTargets(), "Targets to post to (twitter, mastodon, bluesky, or all)")
	cmd.Flags().StringVar(&postInstance, "instance", "", "Mastodon instance URL (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and print actions without posting")
	cmd.Flags().SortFlags = false

	return cmd
}

// job is one platform to publish to.
type job struct {
	platformID string
	publisher  *publish.Publisher
	auth       xpub.AuthContext
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	message, err := resolveMessage(cmd, args)
	if err != nil {
		return err
	}
	targets, err := normalizeTargets(targetsFlag)
	if err != nil {
		return err
	}
	items, err := loadMedia(mediaPaths, altTexts)
	if err != nil {
		return err
	}

	if dryRun {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		jobs, err := buildJobs(ctx, cfg, buildPlatforms(cfg, nil), targets, nil)
		if err != nil {
			return err
		}
		return dispatch(ctx, jobs, message, items, cmd.OutOrStdout(), true)
	}

	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	jobs, err := buildJobs(ctx, env.cfg, env.platforms, targets, env.broker.AuthContext)
	if err != nil {
		return err
	}
	return dispatch(ctx, jobs, message, items, cmd.OutOrStdout(), false)
}

func resolveMessage(cmd *cobra.Command, args []string) (string, error) {
	var message string

	if messageFlag != "" {
		message = messageFlag
	}

	if len(args) > 0 {
		if message != "" {
			return "", errors.New("provide the message either as an argument or with --message, not both")
		}
		message = strings.Join(args, " ")
	}

	if message != "" {
		return strings.TrimSpace(message), nil
	}

	stdin := cmd.InOrStdin()
	if file, ok := stdin.(*os.File); ok {
		info, err := file.Stat()
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if (info.Mode() & os.ModeCharDevice) != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// loadMedia reads every path, pairing it with the alt text at the same position.
func loadMedia(paths, alts []string) ([]xpub.MediaObject, error) {
	if len(alts) > len(paths) {
		return nil, fmt.Errorf("got %d --alt values for %d --media files", len(alts), len(paths))
	}
	items := make([]xpub.MediaObject, 0, len(paths))
	for i, path := range paths {
		var alt string
		if i < len(alts) {
			alt = strings.TrimSpace(alts[i])
		}
		m, err := media.Load(path, alt)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, nil
}

// buildJobs resolves a publisher per target. authFor may be nil when nothing
// is going to be posted.
func buildJobs(ctx context.Context, cfg *config.Config, platforms map[string]xpub.Platform, targets []string, authFor func(context.Context, string) (xpub.AuthContext, error)) ([]job, error) {
	opts := uploadOptions(cfg.Upload)
	jobs := make([]job, 0, len(targets))
	var errs []error
	for _, target := range targets {
		p, ok := platforms[target]
		if !ok {
			errs = append(errs, fmt.Errorf("target %q is not implemented", target))
			continue
		}
		instance := ""
		if target == "mastodon" {
			instance = postInstance
		}
		id, err := resolvePlatformID(cfg, target, instance)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			continue
		}

		j := job{platformID: id, publisher: publish.New(p, opts)}
		if authFor != nil {
			j.auth, err = authFor(ctx, id)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", target, err))
				continue
			}
		}
		jobs = append(jobs, j)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(jobs) == 0 {
		return nil, errors.New("no targets available")
	}
	return jobs, nil
}

func dispatch(ctx context.Context, jobs []job, message string, items []xpub.MediaObject, out io.Writer, simulate bool) error {
	var errs []error
	for _, j := range jobs {
		name := j.publisher.Name()
		req := xpub.PostRequest{Status: message, Media: items, Authorization: j.auth}

		if simulate {
			if err := j.publisher.Validate(req); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			fmt.Fprintf(out, "[dry-run] would post to %s: %q\n", j.platformID, message)
			for _, m := range j.publisher.Attachments(req) {
				fmt.Fprintf(out, "[dry-run] media: %s %d bytes (alt: %q)\n", m.MimeType, m.Size(), m.Description)
			}
			continue
		}

		fmt.Fprintf(out, "posting to %s...\n", name)
		res, err := j.publisher.Publish(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		fmt.Fprintf(out, "posted to %s: %s\n", name, res.PostID)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
