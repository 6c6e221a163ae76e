/*
Package events tracks the latest notable state transition per Runnable.

Unlike a full publish/subscribe broker, a Cache keeps only the most
recent Event per source: the monitoring endpoint is the only consumer
and it only ever wants "what's the current state of this group/test",
never event history or replay.

# Usage

	cache := events.NewCache()
	cache.Record(events.Event{
		Source:  "group-30s",
		Type:    events.GroupTickSkipped,
		Message: "previous tick still in flight",
	})

	if e, ok := cache.Latest("group-30s"); ok {
		fmt.Println(e.Message)
	}

scheduler.Scheduler records GroupTickSkipped events when backpressure
causes a tick to be skipped; monitorapi can render Cache.All() alongside
/stat/scheduler.
*/
package events
