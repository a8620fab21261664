package version

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("xpose-agent %s (%s, %s)", Version, Commit, Date)
}
