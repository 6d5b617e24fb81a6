package version

import "fmt"

// Service - имя сервиса в user-agent и client id внешних клиентов.
const Service = "order-lifecycle"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает значения, прошитые через -ldflags.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

// UserAgent используется в Kafka client id и Stripe AppInfo.
func UserAgent() string {
	return Service + "/" + version
}

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
