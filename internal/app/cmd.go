package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/feedown/internal/config"
	"github.com/hitoshi/feedown/internal/database"
	"github.com/hitoshi/feedown/internal/logger"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWorker はスケジューラ、期限切れ記事の削除、運用エンドポイントを起動する。
	CommandWorker Command = "worker"
	// CommandRefresh はフェッチサイクルを1回だけ実行して終了する。
	CommandRefresh Command = "refresh"
	// CommandCleanup は期限切れ記事の削除を1回だけ実行して終了する。
	CommandCleanup Command = "cleanup"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は/healthを呼び出す。distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandSubscribe は引数のURLを購読する。
	CommandSubscribe Command = "subscribe"
	// CommandUnsubscribe は引数のフィードIDの購読を解除する。
	CommandUnsubscribe Command = "unsubscribe"
	// CommandResume は停止中フィードのフェッチを再開する。
	CommandResume Command = "resume"
	// CommandMarkRead はユーザーの既読マーカーを作成する。引数はユーザーIDと1つ以上の記事ID。
	CommandMarkRead Command = "mark-read"
	// CommandFavorite は記事をユーザーのお気に入りに追加する。
	CommandFavorite Command = "favorite"
	// CommandUnfavorite はユーザーのお気に入りから記事を削除する。
	CommandUnfavorite Command = "unfavorite"
	// CommandFavorites はユーザーのお気に入りを一覧表示する。
	CommandFavorites Command = "favorites"
)

// commandArgs はコマンドごとの引数の個数（最小、最大）。最大が-1の場合は上限なし。
var commandArgs = map[Command][2]int{
	CommandWorker:      {0, 0},
	CommandRefresh:     {0, 0},
	CommandCleanup:     {0, 0},
	CommandMigrate:     {0, 0},
	CommandHealthcheck: {0, 0},
	CommandSubscribe:   {1, 1},
	CommandUnsubscribe: {1, 1},
	CommandResume:      {1, 1},
	CommandMarkRead:    {2, -1},
	CommandFavorite:    {2, 2},
	CommandUnfavorite:  {2, 2},
	CommandFavorites:   {1, 1},
}

const (
	shutdownTimeout    = 30 * time.Second
	healthcheckTimeout = 5 * time.Second
)

// ParseCommand はフラグ以外の引数からサブコマンドと残りの引数を解析する。
// 引数が空の場合はCommandWorkerを返す。未知のコマンドはエラーにする。
func ParseCommand(args []string) (Command, []string, error) {
	if len(args) == 0 {
		return CommandWorker, nil, nil
	}

	cmd := Command(args[0])
	rest := args[1:]
	arity, ok := commandArgs[cmd]
	if !ok {
		return "", nil, fmt.Errorf("不明なコマンドです: %q", args[0])
	}
	// 引数なしのコマンドは余分な引数を無視する
	if arity[1] == 0 {
		return cmd, rest, nil
	}
	if len(rest) < arity[0] || (arity[1] > 0 && len(rest) > arity[1]) {
		return "", nil, fmt.Errorf("%sの引数の数が正しくありません: %d", cmd, len(rest))
	}
	for _, arg := range rest {
		if strings.TrimSpace(arg) == "" {
			return "", nil, fmt.Errorf("%sに空の引数は指定できません", cmd)
		}
	}
	return cmd, rest, nil
}

// Run はアプリケーションのメインエントリーポイント。argsにはos.Args[1:]を渡す。
// ctxのキャンセルでworkerはグレースフルシャットダウンする。
func Run(ctx context.Context, w io.Writer, args []string) error {
	cfg, rest, err := config.Load(args)
	if err != nil {
		if config.IsHelp(err) {
			fmt.Fprintln(w, err.Error())
			return nil
		}
		return err
	}

	log := logger.SetupDefault(w, cfg.LogLevel)

	cmd, cmdArgs, err := ParseCommand(rest)
	if err != nil {
		return err
	}

	log.Info("アプリケーションを起動します", slog.String("command", string(cmd)))

	switch cmd {
	case CommandHealthcheck:
		return runHealthcheck(ctx, cfg.OpsAddr)
	case CommandMigrate:
		return runMigrate(cfg, log)
	}

	rt, err := Setup(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("初期化に失敗: %w", err)
	}
	defer rt.Close()

	return dispatch(ctx, w, rt, cmd, cmdArgs)
}

// dispatch はRuntimeを必要とするコマンドを実行する。
func dispatch(ctx context.Context, w io.Writer, rt *Runtime, cmd Command, args []string) error {
	switch cmd {
	case CommandRefresh:
		return runRefresh(ctx, rt)
	case CommandCleanup:
		_, err := rt.Cleanup.Run(ctx)
		return err
	case CommandSubscribe:
		feed, err := rt.Subscriptions.Subscribe(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, feed.ID)
		return nil
	case CommandUnsubscribe:
		return rt.Subscriptions.Unsubscribe(ctx, args[0])
	case CommandResume:
		_, err := rt.Subscriptions.ResumeFetch(ctx, args[0])
		return err
	case CommandMarkRead:
		return runMarkRead(ctx, w, rt, args[0], args[1:])
	case CommandFavorite:
		fav, err := rt.States.AddFavorite(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, fav.ID)
		return nil
	case CommandUnfavorite:
		return rt.States.RemoveFavorite(ctx, args[0], args[1])
	case CommandFavorites:
		return runListFavorites(ctx, w, rt, args[0])
	default:
		return runWorker(ctx, rt)
	}
}

// runMarkRead は1件の場合は存在確認付きで、複数件の場合は一括で既読にする。
func runMarkRead(ctx context.Context, w io.Writer, rt *Runtime, userID string, articleIDs []string) error {
	if len(articleIDs) == 1 {
		if err := rt.States.MarkRead(ctx, userID, articleIDs[0]); err != nil {
			return err
		}
		fmt.Fprintln(w, articleIDs[0])
		return nil
	}

	added, err := rt.States.MarkReadBatch(ctx, userID, articleIDs)
	if err != nil {
		return err
	}
	rt.Logger.Info("記事を既読にしました",
		slog.String("user_id", userID),
		slog.Int("requested", len(articleIDs)),
		slog.Int("added", added),
	)
	fmt.Fprintln(w, added)
	return nil
}

// runListFavorites はお気に入りを「記事ID タイトル URL」のタブ区切りで出力する。
func runListFavorites(ctx context.Context, w io.Writer, rt *Runtime, userID string) error {
	favorites, err := rt.States.ListFavorites(ctx, userID)
	if err != nil {
		return err
	}
	for _, fav := range favorites {
		fmt.Fprintf(w, "%s\t%s\t%s\n", fav.ID, fav.Title, fav.URL)
	}
	return nil
}

func runRefresh(ctx context.Context, rt *Runtime) error {
	stats, err := rt.Scheduler.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("フェッチサイクルに失敗: %w", err)
	}
	rt.Logger.Info("フェッチサイクルが完了しました",
		slog.Int("total", stats.Total),
		slog.Int("successful", stats.Successful),
		slog.Int("not_modified", stats.NotModified),
		slog.Int("failed", stats.Failed),
		slog.Int("removed", stats.Removed),
		slog.Int("new_articles", stats.NewArticles),
		slog.Int("suspended", stats.Suspended),
	)
	return nil
}

// runWorker はctxがキャンセルされるまでスケジューラと削除ジョブを実行する。
func runWorker(ctx context.Context, rt *Runtime) error {
	server := &http.Server{
		Addr:              rt.Config.OpsAddr,
		Handler:           rt.OpsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		rt.Logger.Info("運用エンドポイントを起動します", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.Cleanup.Start(workerCtx, rt.Config.CleanupInterval)
	}()

	rt.Logger.Info("ワーカーを起動します",
		slog.Duration("fetch_interval", rt.Config.FetchInterval),
		slog.Int("max_concurrent", rt.Config.FetchMaxConcurrent),
	)

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		rt.Scheduler.Start(workerCtx, rt.Config.FetchInterval)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("運用エンドポイントの起動に失敗: %w", err)
		}
	}
	cancel()
	<-schedulerDone
	<-done

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("運用エンドポイントの停止に失敗: %w", err)
	}

	rt.Logger.Info("ワーカーを停止しました")
	return runErr
}

// runMigrate は未適用のマイグレーションを全て適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("migrateはstore=%sでのみ実行できます", config.StorePostgres)
	}

	log.Info("マイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	log.Info("マイグレーションが完了しました",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("changed", status.Changed),
	)
	return nil
}

// runHealthcheck は運用エンドポイントの/healthに問い合わせ、200以外をエラーにする。
func runHealthcheck(ctx context.Context, opsAddr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthcheckURL(opsAddr), nil)
	if err != nil {
		return fmt.Errorf("ヘルスチェックリクエストの作成に失敗: %w", err)
	}

	client := &http.Client{Timeout: healthcheckTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("ヘルスチェックに失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ヘルスチェックのステータスが異常です: %d", resp.StatusCode)
	}
	return nil
}

// healthcheckURL は待ち受けアドレスから/healthのURLを組み立てる。ホスト省略時はlocalhost。
func healthcheckURL(opsAddr string) string {
	host, port, err := net.SplitHostPort(opsAddr)
	if err != nil {
		return "http://" + opsAddr + "/health"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/health"
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
