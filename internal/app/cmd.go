package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandRun は収集を1回だけ実行して終了することを示す。
	CommandRun Command = "run"
	// CommandWorker は収集を定期実行するワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandServe はアーカイブ参照APIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandRunを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandRun
	}

	switch args[0] {
	case "run":
		return CommandRun
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandRun
	}
}

// needsSource は検索元の設定が必要なコマンドかを返す。
func (c Command) needsSource() bool {
	return c == CommandRun || c == CommandWorker
}
