package config

const (
	defaultConfigPath            = "~/.config/dirjobs/config.toml"
	defaultJobsDir               = "~/.local/share/dirjobs/jobs"
	defaultVideoDir              = "~/.local/share/dirjobs/videos"
	defaultTmpDir                = "~/.local/share/dirjobs/tmp"
	defaultResultDir             = "~/.local/share/dirjobs/results"
	defaultLogDir                = "~/.local/share/dirjobs/logs"
	defaultWorkerID              = "w1"
	defaultJobExtension          = ".txt"
	defaultSyncSeconds           = 70
	defaultIdleMinSeconds        = 30
	defaultIdleMaxSeconds        = 90
	defaultStopFile              = "STOP_WORKERS"
	defaultBackend               = BackendContainer
	defaultContainerBinary       = "docker"
	defaultImage                 = "fginet/docker-video-encoding:latest"
	defaultSFTPPort              = 22
	defaultSFTPTargetDir         = "."
	defaultConnectTimeoutSeconds = 30
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 60
)

// Encoder backends.
const (
	BackendContainer = "container"
	BackendDrapto    = "drapto"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			JobsDir:   defaultJobsDir,
			VideoDir:  defaultVideoDir,
			TmpDir:    defaultTmpDir,
			ResultDir: defaultResultDir,
			LogDir:    defaultLogDir,
		},
		Worker: Worker{
			JobExtension:    defaultJobExtension,
			RandomSelection: true,
			RequireVideo:    true,
			WorkerSync:      true,
			SyncSeconds:     defaultSyncSeconds,
			IdleMinSeconds:  defaultIdleMinSeconds,
			IdleMaxSeconds:  defaultIdleMaxSeconds,
			StopFile:        defaultStopFile,
		},
		Encoder: Encoder{
			Backend:         defaultBackend,
			ContainerBinary: defaultContainerBinary,
			Image:           defaultImage,
		},
		Delivery: Delivery{
			SFTPPort:              defaultSFTPPort,
			SFTPTargetDir:         defaultSFTPTargetDir,
			ConnectTimeoutSeconds: defaultConnectTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobFailed:      true,
			WorkerStopped:  true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
