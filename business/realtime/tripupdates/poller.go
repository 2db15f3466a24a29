package tripupdates

import (
	"context"
	"time"

	"github.com/cercatrack/railfusion/business/realtime/feed"
	"github.com/cercatrack/railfusion/foundation/httpclient"
)

// RunPollLoop polls the trip updates feed on a fixed period until ctx is
// cancelled. Transient errors keep the merged state and only increment
// the errors streak.
func (c *Cache) RunPollLoop(ctx context.Context, client *httpclient.Client, url string, pollEvery time.Duration) {
	c.log.Printf("trip update poller starting, url %s every %s", url, pollEvery)
	sleep := time.Duration(0) // poll immediately the first time
	for {
		select {
		case <-ctx.Done():
			c.log.Printf("trip update poller exiting: %v", ctx.Err())
			return
		case <-time.After(sleep):
		}
		start := time.Now()

		message, err := feed.Fetch(ctx, client, url)
		if err != nil {
			streak := c.errorsStreak.Add(1)
			c.log.Printf("error fetching trip updates (streak %d): %v", streak, err)
		} else {
			c.errorsStreak.Store(0)
			c.Apply(message, time.Now().Unix())
		}

		// run on the fixed period by subtracting the time work took
		workTook := time.Since(start)
		if workTook >= pollEvery {
			sleep = 0
		} else {
			sleep = pollEvery - workTook
		}
	}
}
