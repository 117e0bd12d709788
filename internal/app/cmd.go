package app

import "slices"

// Command はバイナリのサブコマンド。
type Command string

const (
	// CommandServe はAPIサーバー。
	CommandServe Command = "serve"
	// CommandWorker はcron式で配信サイクルを回し、日次で古いデータを削除する常駐プロセス。
	CommandWorker Command = "worker"
	// CommandDispatch は配信サイクルを1回実行して終了する。外部スケジューラ向け。
	CommandDispatch Command = "dispatch"
	// CommandMigrate は未適用のマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの/healthを叩く。distrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandWorker, CommandDispatch, CommandMigrate, CommandHealthcheck}

// ParseCommand は先頭の引数をサブコマンドとして読む。引数なしや未知の名前はserveになる。
func ParseCommand(args []string) Command {
	if len(args) > 0 && slices.Contains(commands, Command(args[0])) {
		return Command(args[0])
	}
	return CommandServe
}
