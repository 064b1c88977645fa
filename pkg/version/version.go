package version

// Version 版本号（构建时通过 -ldflags "-X github.com/xuhao2004/kimochi/pkg/version.Version=..." 注入）
var Version = "dev"

// GetVersion 获取版本号
func GetVersion() string {
	if Version == "" {
		return "dev"
	}
	return Version
}
