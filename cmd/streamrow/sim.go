package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/streamrow/streamrow/internal/layout"
	"github.com/streamrow/streamrow/internal/session"
	"github.com/streamrow/streamrow/internal/stream"
)

var (
	simMessages int
	simShuffle  bool
	simDelay    time.Duration
	simPoolSize int
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Simulate concurrent message streams and print the committed output",
	RunE:  runSim,
}

func init() {
	simCmd.Flags().IntVar(&simMessages, "messages", 4, "Concurrent simulated messages")
	simCmd.Flags().BoolVar(&simShuffle, "shuffle", false, "Deliver chunks out of sequence order")
	simCmd.Flags().DurationVar(&simDelay, "delay", 30*time.Millisecond, "Delay between chunk deliveries")
	simCmd.Flags().IntVar(&simPoolSize, "pool", 0, "Override the render context pool size")
	rootCmd.AddCommand(simCmd)
}

var sampleBodies = []string{
	"The renderer keeps each message on its own row. Heights settle as " +
		"content stops changing, and the view stays pinned to the newest " +
		"row until you scroll away.",

	"# Streaming markup\n\nHeadings, *emphasis* and lists render " +
		"incrementally:\n\n- chunks assemble in order\n- flushes happen " +
		"on sentence boundaries\n- the final render is always exact",

	"Here is a snippet that needs a highlight surface:\n\n```go\n" +
		"func clamp(v, lo, hi int) int {\n\tif v < lo {\n\t\treturn lo\n" +
		"\t}\n\tif v > hi {\n\t\treturn hi\n\t}\n\treturn v\n}\n```\n",

	"Short answers settle fast. Longer ones trickle in and the layout " +
		"absorbs small height changes without jitter, so nothing jumps " +
		"around while you read.",
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if simPoolSize > 0 {
		cfg.Pool.Capacity = simPoolSize
	}

	eng := session.NewEngine(cfg, width, session.WithLogger(log))
	defer eng.Close()

	ids := make([]string, simMessages)
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	done := make(chan struct{})
	go consumeEvents(eng, log, done)

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(id, body string) {
			defer wg.Done()
			produce(eng, id, body)
		}(id, sampleBodies[i%len(sampleBodies)])
	}
	wg.Wait()

	// Give the workers a moment to commit the final renders.
	time.Sleep(500 * time.Millisecond)
	close(done)

	for _, id := range ids {
		res, ok := eng.Result(id)
		if !ok {
			log.WithField("message_id", id).Warn("no committed render")
			continue
		}
		fmt.Println(res.Styled)
		fmt.Println()
	}

	st := eng.StatsSnapshot()
	log.WithFields(map[string]interface{}{
		"sessions":     st.Sessions,
		"cache_hits":   st.CacheHits,
		"cache_misses": st.CacheMisses,
		"pool_created": st.PoolCreated,
		"pool_faults":  st.PoolFaults,
	}).Info("simulation finished")
	return nil
}

// produce splits a body into small chunks and feeds them to the engine,
// optionally shuffled to exercise out-of-order assembly.
func produce(eng *session.Engine, id, body string) {
	const chunkSize = 24

	type piece struct {
		seq     uint64
		payload string
	}
	var pieces []piece
	for i := 0; i < len(body); i += chunkSize {
		end := i + chunkSize
		if end > len(body) {
			end = len(body)
		}
		pieces = append(pieces, piece{seq: uint64(len(pieces)), payload: body[i:end]})
	}

	order := make([]int, len(pieces))
	for i := range order {
		order[i] = i
	}
	if simShuffle {
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	last := uint64(len(pieces) - 1)
	for _, idx := range order {
		p := pieces[idx]
		_ = eng.Ingest(stream.Chunk{
			MessageID: id,
			Sequence:  p.seq,
			Payload:   []byte(p.payload),
			Final:     p.seq == last,
		})
		time.Sleep(simDelay)
	}
}

// consumeEvents drains the delivery channel the way a toolkit
// integration would, logging what a UI thread would apply.
func consumeEvents(eng *session.Engine, log *logrus.Logger, done <-chan struct{}) {
	for {
		select {
		case ev := <-eng.Events():
			switch ev.Type {
			case layout.EventResult:
				entry := log.WithFields(map[string]interface{}{
					"message_id": ev.MessageID,
					"height":     ev.Height,
				})
				if ev.Animate {
					entry = entry.WithField("steps", ev.Steps)
				}
				entry.Debug("row updated")
			case layout.EventScrollToBottom:
				log.Debug("scroll to bottom")
			case layout.EventRenderFailed:
				log.WithFields(map[string]interface{}{
					"message_id": ev.MessageID,
					"reason":     ev.Reason,
				}).Warn("render failed")
			}
		case <-done:
			return
		}
	}
}
