package build

import "strings"

var (
	Version = "dev"
	AppName = "Zeus-CI"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
