package app

import (
	"hoard-go/internal/config"
	"hoard-go/internal/hoard"
	"hoard-go/internal/tools"
)

// settingsFromConfig resolves a loaded config into engine settings.
func settingsFromConfig(cfg *config.Config) hoard.Settings {
	s := hoard.Settings{
		Root:               cfg.Storage.LocalRoot,
		Policy:             cfg.Retention.Policy(),
		GlobalExclude:      cfg.GlobalExclude,
		CompletePatterns:   cfg.CompleteExclude,
		MinDatabaseSpaceMB: cfg.Storage.MinDatabaseSpaceMB,
		BatchWidth:         cfg.System.MaxParallel,
	}
	for _, p := range cfg.Projects {
		s.Projects = append(s.Projects, hoard.Project{
			Name:          p.Name,
			Path:          p.Path,
			Exclude:       p.Exclude,
			RetentionDays: p.RetentionDays,
			Enabled:       p.IsEnabled(),
			Databases:     p.Databases,
		})
	}
	for _, d := range cfg.Databases {
		s.Databases = append(s.Databases, hoard.Database{
			Name:          d.Name,
			Host:          d.Host,
			Port:          d.Port,
			User:          d.User,
			Password:      d.Password,
			Options:       d.Options,
			Compress:      d.ShouldCompress(),
			RetentionDays: d.RetentionDays,
			Enabled:       d.IsEnabled(),
		})
	}
	return s
}

func timeoutsFromConfig(c config.TimeoutConfig) tools.Timeouts {
	return tools.Timeouts{
		MySQLDump:    c.MySQLDump.Duration,
		MySQLRestore: c.MySQLRestore.Duration,
		GitBundle:    c.GitBundle.Duration,
		GitClone:     c.GitClone.Duration,
		GitVerify:    c.GitVerify.Duration,
	}
}
