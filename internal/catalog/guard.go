// Package catalog は食品カタログの集約エンジンを提供する。
// 外部プロバイダ呼び出しの保護（レート制限＋サーキットブレーカー）、
// ランキング・マージ処理、鮮度キャッシュを踏まえたオーケストレーションを含む。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GuardErrorCode はプロバイダ呼び出し失敗の分類コード。
type GuardErrorCode string

const (
	// GuardRateLimited はトークン不足により呼び出しを拒否したことを示す。
	GuardRateLimited GuardErrorCode = "RATE_LIMITED"
	// GuardCircuitOpen はサーキットオープン中のため呼び出しを拒否したことを示す。
	GuardCircuitOpen GuardErrorCode = "CIRCUIT_OPEN"
	// GuardFailed は呼び出し自体が失敗（タイムアウト含む）したことを示す。
	GuardFailed GuardErrorCode = "FAILED"
)

// ProviderUnavailableError はプロバイダが利用できないことを表す型付きエラー。
// RATE_LIMITED / CIRCUIT_OPEN は呼び出しを試行すらしなかったことを、
// FAILED は試行したが失敗したことを区別して伝える。
type ProviderUnavailableError struct {
	Provider string
	Code     GuardErrorCode
}

// Error はerrorインターフェースを実装する。
func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("プロバイダ %s が利用できません: %s", e.Provider, e.Code)
}

// IsProviderUnavailable はエラーがProviderUnavailableErrorかどうかを判定する。
func IsProviderUnavailable(err error) bool {
	var target *ProviderUnavailableError
	return errors.As(err, &target)
}

// GuardConfig はProviderGuardの設定を保持する。
type GuardConfig struct {
	// RPS はプロバイダ名ごとの秒間リクエスト予算。0以下なら制限なし。
	RPS map[string]float64
	// Timeout は1回の呼び出しのタイムアウト。
	Timeout time.Duration
	// FailureThreshold はサーキットを開く連続失敗回数の閾値。
	FailureThreshold int
	// Cooldown はサーキットオープンの継続時間。
	Cooldown time.Duration
}

// circuitState はプロバイダごとのサーキットブレーカー状態。
type circuitState struct {
	failures  int
	openUntil time.Time // ゼロ値はクローズ状態を表す
}

// ProviderGuard はプロバイダ名をキーとするトークンバケットとサーキット状態を保持する。
// プロセス内共有のミュータブルな状態であり、起動時に1個生成して
// 集約サービスへ注入する。永続化はせず、プロセス再起動でリセットされる。
type ProviderGuard struct {
	cfg GuardConfig

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	circuits map[string]*circuitState

	// now はテスト用に差し替え可能な現在時刻関数。
	now func() time.Time
}

// NewProviderGuard はProviderGuardを生成する。
func NewProviderGuard(cfg GuardConfig) *ProviderGuard {
	return &ProviderGuard{
		cfg:      cfg,
		buckets:  make(map[string]*rate.Limiter),
		circuits: make(map[string]*circuitState),
		now:      time.Now,
	}
}

// GuardedCall はプロバイダ呼び出しをレート制限とサーキットブレーカーで保護して実行する。
//  1. サーキットオープン中なら即座にCIRCUIT_OPENで失敗する（トークン消費なし）。
//  2. openUntilを過ぎていればサーキットをリセットしてから続行する。
//  3. レートが正の場合はトークンを1つ取得する。取れなければRATE_LIMITEDで失敗する。
//  4. タイムアウト付きコンテキストでfnを実行する。
//  5. 成功時は失敗カウントとオープン状態をクリアする。
//  6. 失敗時（タイムアウト含む）は失敗カウントを増やし、閾値到達でサーキットを開き、
//     FAILEDエラーを返す。
//
// ガード自身の内部状態以外に副作用はなく、リトライは行わない。
func GuardedCall[T any](
	ctx context.Context,
	g *ProviderGuard,
	provider string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	if err := g.acquire(provider); err != nil {
		return zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	result, err := fn(callCtx)
	if err != nil {
		g.reportFailure(provider)
		return zero, &ProviderUnavailableError{Provider: provider, Code: GuardFailed}
	}

	g.reportSuccess(provider)
	return result, nil
}

// acquire はサーキット状態とトークンバケットを確認し、呼び出し可否を判定する。
func (g *ProviderGuard) acquire(provider string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	circuit := g.circuitLocked(provider)

	// openUntil経過後はクローズ状態へ戻す（失敗カウントもリセット）
	if !circuit.openUntil.IsZero() && !now.Before(circuit.openUntil) {
		circuit.openUntil = time.Time{}
		circuit.failures = 0
	}

	if !circuit.openUntil.IsZero() && now.Before(circuit.openUntil) {
		return &ProviderUnavailableError{Provider: provider, Code: GuardCircuitOpen}
	}

	rps := g.cfg.RPS[provider]
	if rps > 0 {
		bucket := g.bucketLocked(provider, rps)
		if !bucket.Allow() {
			return &ProviderUnavailableError{Provider: provider, Code: GuardRateLimited}
		}
	}

	return nil
}

// reportSuccess は呼び出し成功を記録し、サーキットを完全にクローズする。
func (g *ProviderGuard) reportSuccess(provider string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	circuit := g.circuitLocked(provider)
	circuit.failures = 0
	circuit.openUntil = time.Time{}
}

// reportFailure は呼び出し失敗を記録し、閾値到達でサーキットを開く。
func (g *ProviderGuard) reportFailure(provider string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	circuit := g.circuitLocked(provider)
	circuit.failures++
	if circuit.failures >= g.cfg.FailureThreshold {
		circuit.openUntil = g.now().Add(g.cfg.Cooldown)
	}
}

// circuitLocked はプロバイダのサーキット状態を取得または作成する。呼び出し側でロック必須。
func (g *ProviderGuard) circuitLocked(provider string) *circuitState {
	if c, ok := g.circuits[provider]; ok {
		return c
	}
	c := &circuitState{}
	g.circuits[provider] = c
	return c
}

// bucketLocked はプロバイダのトークンバケットを取得または作成する。呼び出し側でロック必須。
// バースト容量は max(1, rps) とし、低レート設定でも最低1回は通す。
func (g *ProviderGuard) bucketLocked(provider string, rps float64) *rate.Limiter {
	if b, ok := g.buckets[provider]; ok {
		return b
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	b := rate.NewLimiter(rate.Limit(rps), burst)
	g.buckets[provider] = b
	return b
}
