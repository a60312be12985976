package config

const (
	defaultConfigPath               = "~/.config/dubforge/config.toml"
	defaultStateDir                 = "~/.local/share/dubforge"
	defaultWorkDir                  = "~/.local/share/dubforge/work"
	defaultOutputDir                = "~/dubbed"
	defaultLogDir                   = "~/.local/share/dubforge/logs"
	defaultSourceLanguage           = "en"
	defaultTargetLanguage           = "es"
	defaultMaxConcurrentJobs        = 2
	defaultSegmentParallelism       = 4
	defaultQueuePollInterval        = 5
	defaultHeartbeatInterval        = 15
	defaultHeartbeatTimeout         = 120
	defaultToolTimeout              = 4 * 60 * 60
	defaultWordsPerSecond           = 2.5
	defaultPacingTolerance          = 0.10
	defaultMinStretch               = 0.85
	defaultMaxStretch               = 1.2
	defaultRewriteStrictness        = "conservative"
	defaultRewriteTimeoutSeconds    = 20
	defaultSilenceThreshold         = 0.01
	defaultWhisperXModel            = "large-v3"
	defaultWhisperXVADMethod        = "silero"
	defaultLLMBaseURL               = "https://api.openai.com/v1"
	defaultLLMModel                 = "gpt-4o-mini"
	defaultLLMTemperature           = 0.2
	defaultLLMTimeoutSeconds        = 60
	defaultSynthesisTimeoutSeconds  = 120
	defaultSynthesisGenericVoice    = "default"
	defaultSynthesisSampleRate      = 24000
	defaultBackgroundVolume         = 0.25
	defaultDubVolume                = 1.0
	defaultAudioCodec               = "aac"
	defaultAudioBitrate             = "192k"
	defaultContainer                = "mkv"
	defaultReviewContextSeconds     = 2.0
	defaultStreamingChunkSeconds    = 30.0
	defaultStreamingOverlapSeconds  = 0.5
	defaultNotifyRequestTimeout     = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultNotifyJobCompleted       = true
	defaultNotifyJobFailed          = true
	defaultNotifyBatchCompleted     = true
	defaultSynthesisVoiceCloneState = true
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Languages: Languages{
			Source: defaultSourceLanguage,
			Target: defaultTargetLanguage,
		},
		Workflow: Workflow{
			MaxConcurrentJobs:  defaultMaxConcurrentJobs,
			SegmentParallelism: defaultSegmentParallelism,
			QueuePollInterval:  defaultQueuePollInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			ToolTimeout:        defaultToolTimeout,
		},
		Pacing: Pacing{
			WordsPerSecond:        defaultWordsPerSecond,
			Tolerance:             defaultPacingTolerance,
			MinStretch:            defaultMinStretch,
			MaxStretch:            defaultMaxStretch,
			RewriteStrictness:     defaultRewriteStrictness,
			RewriteTimeoutSeconds: defaultRewriteTimeoutSeconds,
			SilenceThreshold:      defaultSilenceThreshold,
		},
		WhisperX: WhisperX{
			Model:     defaultWhisperXModel,
			VADMethod: defaultWhisperXVADMethod,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Temperature:    defaultLLMTemperature,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			RewriteEnabled: true,
		},
		Synthesis: Synthesis{
			TimeoutSeconds: defaultSynthesisTimeoutSeconds,
			VoiceClone:     defaultSynthesisVoiceCloneState,
			GenericVoice:   defaultSynthesisGenericVoice,
			SampleRate:     defaultSynthesisSampleRate,
		},
		Mix: Mix{
			BackgroundVolume:  defaultBackgroundVolume,
			DubVolume:         defaultDubVolume,
			AudioCodec:        defaultAudioCodec,
			AudioBitrate:      defaultAudioBitrate,
			Container:         defaultContainer,
			KeepOriginalAudio: true,
		},
		Render: Render{
			ReviewContextSeconds: defaultReviewContextSeconds,
		},
		Streaming: Streaming{
			ChunkSeconds:   defaultStreamingChunkSeconds,
			OverlapSeconds: defaultStreamingOverlapSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobCompleted:   defaultNotifyJobCompleted,
			JobFailed:      defaultNotifyJobFailed,
			BatchCompleted: defaultNotifyBatchCompleted,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
