// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("keeptemp", false)

	viper.SetDefault("main.name", "nomusic")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/nomusic.log")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.host", "127.0.0.1")
	viper.SetDefault("webserver.port", "5000")

	viper.SetDefault("paths.base", "data")
	viper.SetDefault("paths.temproot", "data/tmp")
	viper.SetDefault("paths.tools", "tools")

	viper.SetDefault("workers.separation", 1)
	viper.SetDefault("workers.download", 1)
	viper.SetDefault("workers.batch", 1)
	viper.SetDefault("workers.demucssegments", 2)

	viper.SetDefault("segment.thresholdseconds", 600.0)
	viper.SetDefault("segment.lengthseconds", 600.0)

	viper.SetDefault("download.timeoutminutes", 30)
	viper.SetDefault("download.maxretries", 3)

	viper.SetDefault("tools.autofetch", true)
	viper.SetDefault("tools.ffmpegpath", "")
	viper.SetDefault("tools.ffprobepath", "")
	viper.SetDefault("tools.ytdlppath", "")
	viper.SetDefault("tools.spleeterbin", "spleeter")
	viper.SetDefault("tools.demucsbin", "demucs")

	viper.SetDefault("audiolanguages", []string{})
}
