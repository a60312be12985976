package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"dubforge/internal/config"
	"dubforge/internal/ledger"
	"dubforge/internal/logging"
	"dubforge/internal/manifest"
	"dubforge/internal/media"
	"dubforge/internal/pipeline"
	"dubforge/internal/queue"
	"dubforge/internal/services/llm"
	"dubforge/internal/services/tts"
	"dubforge/internal/services/whisperx"
	"dubforge/internal/workflow"
)

// collaboratorFactory builds the external engines a pipeline drives.
type collaboratorFactory func(cfg *config.Config, logger *slog.Logger) pipeline.Collaborators

// Overridden in tests.
var (
	newCollaborators collaboratorFactory = defaultCollaborators
	logOutput        io.Writer           = os.Stderr
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	collaborators collaboratorFactory
	logOutput     io.Writer
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag:    configFlag,
		collaborators: newCollaborators,
		logOutput:     logOutput,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(cfg *config.Config) (*slog.Logger, error) {
	if c.logOutput != os.Stderr {
		return logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Writer: c.logOutput})
	}
	return logging.NewFromConfig(cfg, shouldColorize(os.Stderr))
}

// runtime is everything a command needs to touch a job: the queue, the review
// ledger, stage manifests, and an executor over them.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	ledger    *ledger.Ledger
	manifests *manifest.Store
	exec      *pipeline.Executor
}

func (c *commandContext) withRuntime(fn func(*runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger(cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer store.Close()
	review, err := ledger.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open review ledger: %w", err)
	}
	defer review.Close()

	manifests := manifest.NewStore(cfg.ManifestDir(), logger)
	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		ledger:    review,
		manifests: manifests,
		exec:      pipeline.New(cfg, manifests, review, c.collaborators(cfg, logger), logger),
	}
	return fn(rt)
}

func (rt *runtime) manager() *workflow.Manager {
	return workflow.NewManager(rt.cfg, rt.store, rt.exec, rt.logger,
		workflow.WithJobLogs(workflow.NewJobLogs(rt.cfg)))
}

// job loads a job by id or reports it missing.
func (rt *runtime) job(cmd *cobra.Command, id int64) (*queue.Job, error) {
	job, err := rt.store.GetByID(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %d: %w", id, queue.ErrJobNotFound)
	}
	return job, nil
}

func defaultCollaborators(cfg *config.Config, logger *slog.Logger) pipeline.Collaborators {
	toolkit := media.New(cfg, logger)
	recognizer := whisperx.NewService(whisperx.Config{
		Model:       cfg.WhisperX.Model,
		CUDAEnabled: cfg.WhisperX.CUDAEnabled,
		VADMethod:   cfg.WhisperX.VADMethod,
		HFToken:     cfg.WhisperX.HFToken,
		MinSpeakers: cfg.WhisperX.MinSpeakers,
		MaxSpeakers: cfg.WhisperX.MaxSpeakers,
		Language:    cfg.Languages.Source,
		Timeout:     cfg.ToolTimeout(),
	}, cfg.FFmpegBinary())
	client := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Temperature:    cfg.LLM.Temperature,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
	collab := pipeline.Collaborators{
		Extractor:   toolkit,
		Diarizer:    recognizer,
		Transcriber: recognizer,
		Translator:  llm.NewTranslator(client),
		Synthesizer: tts.NewChainFromConfig(cfg, logger),
		Stretcher:   toolkit,
		Media:       toolkit,
		Clipper:     toolkit,
	}
	if cfg.LLM.RewriteEnabled {
		collab.Rewriter = llm.NewRewriter(client, cfg.Pacing.WordsPerSecond)
	}
	return collab
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
