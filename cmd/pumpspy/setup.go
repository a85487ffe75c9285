package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/langchou/pumpspy/internal/api/pumpspy"
	"github.com/langchou/pumpspy/internal/config"
	"github.com/langchou/pumpspy/internal/models"
	"github.com/langchou/pumpspy/internal/repository"
	"github.com/langchou/pumpspy/internal/service"
)

var errNoChoice = errors.New("no choice made")

func setupCommand(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := c.Context
	factory := func(username, password string) service.Client {
		return pumpspy.NewClient(cfg.BaseURL, username, password,
			pumpspy.WithLogger(logger),
			pumpspy.WithRetryDelay(cfg.RetryDelay),
		)
	}

	prompt := &prompter{in: bufio.NewReader(os.Stdin), out: os.Stdout}
	entry, err := runSetup(ctx, service.NewSetupFlow(factory, logger), prompt, c.String("username"), c.String("password"))
	if err != nil {
		return err
	}

	if cfg.DatabaseURL == "" {
		fmt.Fprintf(prompt.out, "\nAdd to your environment:\n\nPUMPSPY_USERNAME=%s\nPUMPSPY_DEVICE_ID=%s\n", entry.Username, entry.DeviceID)
		return nil
	}

	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	if err := repository.NewEntryRepository(db).Save(ctx, entry); err != nil {
		return err
	}
	logger.Info("Saved entry", zap.String("title", entry.Title), zap.String("device_id", entry.DeviceID))
	return nil
}

// runSetup drives the flow from credentials to a finished entry.
func runSetup(ctx context.Context, flow *service.SetupFlow, p *prompter, username, password string) (*models.ConfigEntry, error) {
	var err error
	if username == "" {
		if username, err = p.ask("Pumpspy email: "); err != nil {
			return nil, err
		}
	}
	if password == "" {
		if password, err = p.ask("Pumpspy password: "); err != nil {
			return nil, err
		}
	}

	step, err := flow.Begin(ctx, username, password)
	for err == nil && step.Step != service.StepDone {
		switch step.Step {
		case service.StepLocation:
			labels := make([]string, len(step.Locations))
			for i, l := range step.Locations {
				labels[i] = fmt.Sprintf("%s (%s)", l.Nickname, l.LID)
			}
			var i int
			if i, err = p.choose("Location", labels); err != nil {
				return nil, err
			}
			step, err = flow.SelectLocation(ctx, step.Locations[i].LID.String())
		case service.StepDevice:
			labels := make([]string, len(step.Devices))
			for i, d := range step.Devices {
				labels[i] = fmt.Sprintf("%s, %s (%s)", d.DisplayName(), d.DeviceTypesName, d.DeviceID)
			}
			var i int
			if i, err = p.choose("Device", labels); err != nil {
				return nil, err
			}
			step, err = flow.SelectDevice(ctx, step.Devices[i].DeviceID.String())
		default:
			return nil, fmt.Errorf("unexpected setup step %q", step.Step)
		}
	}
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(p.out, "Configured %s\n", step.Entry.Title)
	return step.Entry, nil
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", errNoChoice
	}
	return line, nil
}

// choose lists options and returns the index picked, re-asking on bad input.
func (p *prompter) choose(what string, options []string) (int, error) {
	fmt.Fprintf(p.out, "%s:\n", what)
	for i, o := range options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, o)
	}
	for {
		answer, err := p.ask(fmt.Sprintf("Choose %s [1-%d]: ", strings.ToLower(what), len(options)))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		fmt.Fprintln(p.out, "Invalid choice")
	}
}
