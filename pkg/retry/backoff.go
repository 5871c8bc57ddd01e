package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = 0
	return exp
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

// Delay computes the wait before the next redelivery of a command:
// min(multiplier^retryCount * base, cap). With the defaults (base 1s,
// multiplier 2, cap 30s) the observed sequence is 2s, 4s, 8s, ...
func Delay(retryCount int, baseDelay time.Duration, multiplier float64, capDelay time.Duration) time.Duration {
	duration := float64(baseDelay) * math.Pow(multiplier, float64(retryCount))
	if duration > float64(capDelay) {
		return capDelay
	}
	return time.Duration(duration)
}
