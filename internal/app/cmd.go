package app

import (
	"errors"
	"flag"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は運用API（ヘルスチェック、ステータス、メトリクス、CSV）を提供する。
	CommandServe Command = "serve"
	// CommandWalk はカタログ巡回パスを1回実行する。-loopで定期実行する。
	CommandWalk Command = "walk"
	// CommandDetail は詳細取得ワーカープールを起動する。
	CommandDetail Command = "detail"
	// CommandRun は巡回と詳細取得を交互に実行するスーパーバイザー。
	CommandRun Command = "run"
	// CommandReclaim は放置されたクレームをpendingに戻す。
	CommandReclaim Command = "reclaim"
	// CommandArchive は長期間無効な商品をアーカイブする。
	CommandArchive Command = "archive"
	// CommandExport は有効な商品をCSVで書き出す。
	CommandExport Command = "export"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Options はサブコマンドのフラグ。
type Options struct {
	// Output はexportの出力先。"-"の場合は標準出力。
	Output string
	// NoBOM はexportでBOMを付けない。
	NoBOM bool
	// Loop はwalkをCATALOG_PASS_INTERVALごとに繰り返す。
	Loop bool
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch c := Command(args[0]); c {
	case CommandServe, CommandWalk, CommandDetail, CommandRun, CommandReclaim,
		CommandArchive, CommandExport, CommandMigrate, CommandHealthcheck:
		return c
	default:
		return CommandServe
	}
}

// ParseOptions はサブコマンド以降の引数からフラグを解析する。
func ParseOptions(cmd Command, args []string, stderr io.Writer) (Options, error) {
	var opts Options

	fs := flag.NewFlagSet(string(cmd), flag.ContinueOnError)
	fs.SetOutput(stderr)
	switch cmd {
	case CommandExport:
		fs.StringVar(&opts.Output, "o", "catalog.csv", "出力先のファイル（-で標準出力）")
		fs.BoolVar(&opts.NoBOM, "no-bom", false, "UTF-8のBOMを付けない")
	case CommandWalk:
		fs.BoolVar(&opts.Loop, "loop", false, "CATALOG_PASS_INTERVALごとに巡回を繰り返す")
	}

	if len(args) > 0 && Command(args[0]) == cmd {
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	if fs.NArg() > 0 {
		return Options{}, errors.New("unexpected arguments: " + fs.Arg(0))
	}
	return opts, nil
}
