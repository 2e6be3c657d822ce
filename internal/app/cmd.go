package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はエッジAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandLikes はいいね状態ストアサービスとして起動することを示す。
	CommandLikes Command = "likes"
	// CommandWorker はイベントチャネルのコンシューマとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandLikes, CommandWorker, CommandMigrate, CommandHealthcheck, CommandServe:
		return Command(args[0])
	default:
		return CommandServe
	}
}

// RequiresDatabase はコマンドがいいね状態ストア（Postgres）を必要とするかどうかを返す。
func (c Command) RequiresDatabase() bool {
	switch c {
	case CommandLikes, CommandWorker, CommandMigrate:
		return true
	default:
		return false
	}
}

// defaultServiceName はレジストリへ自己登録する際の既定のサービス名。
func (c Command) defaultServiceName() string {
	switch c {
	case CommandLikes:
		return "likes-service"
	default:
		return "api-gateway"
	}
}
