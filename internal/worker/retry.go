package worker

import "time"

// initialRetryDelay は失敗直後のリトライ遅延（5分）。
const initialRetryDelay = 5 * time.Minute

// NextRunDelay は次回実行までの待ち時間を返す。
// 失敗がなければinterval。失敗時は5分から倍々に増やし、intervalを上限とする。
func NextRunDelay(consecutiveFailures int, interval time.Duration) time.Duration {
	if consecutiveFailures <= 0 {
		return interval
	}
	delay := initialRetryDelay
	for i := 1; i < consecutiveFailures; i++ {
		delay *= 2
		if delay >= interval {
			return interval
		}
	}
	if delay > interval {
		return interval
	}
	return delay
}
