// Package statsd implements instrumentation.Instrumentation on a
// g2s.Statter.
package statsd

import (
	"time"

	"github.com/peterbourgon/g2s"
	"github.com/rkvlabs/rkv/internal/instrumentation"
)

// Satisfaction guaranteed.
var _ instrumentation.Instrumentation = statsdInstrumentation{}

type statsdInstrumentation struct {
	statter    g2s.Statter
	sampleRate float32
	prefix     string
}

// New returns an Instrumentation that forwards metrics to statsd. Bucket
// names take the form e.g. "command.get.call.count" and are prefixed with
// bucketPrefix.
func New(statter g2s.Statter, sampleRate float32, bucketPrefix string) instrumentation.Instrumentation {
	return statsdInstrumentation{
		statter:    statter,
		sampleRate: sampleRate,
		prefix:     bucketPrefix,
	}
}

func (i statsdInstrumentation) CommandCall(command string) {
	i.statter.Counter(i.sampleRate, i.prefix+"command."+command+".call.count", 1)
}

func (i statsdInstrumentation) CommandDuration(command string, d time.Duration) {
	i.statter.Timing(i.sampleRate, i.prefix+"command."+command+".duration", d)
}

func (i statsdInstrumentation) CommandError(command string) {
	i.statter.Counter(i.sampleRate, i.prefix+"command."+command+".error.count", 1)
}

func (i statsdInstrumentation) ConnectionOpened() {
	i.statter.Counter(i.sampleRate, i.prefix+"connection.opened.count", 1)
}

func (i statsdInstrumentation) ConnectionClosed() {
	i.statter.Counter(i.sampleRate, i.prefix+"connection.closed.count", 1)
}

func (i statsdInstrumentation) PurgePass() {
	i.statter.Counter(i.sampleRate, i.prefix+"purge.pass.count", 1)
}

func (i statsdInstrumentation) PurgeSampled(n int) {
	i.statter.Counter(i.sampleRate, i.prefix+"purge.sampled.count", n)
}

func (i statsdInstrumentation) PurgeExpired(n int) {
	i.statter.Counter(i.sampleRate, i.prefix+"purge.expired.count", n)
}

func (i statsdInstrumentation) LogWriteFailure() {
	i.statter.Counter(i.sampleRate, i.prefix+"log.write_failure.count", 1)
}

func (i statsdInstrumentation) ReplayedCommands(n int) {
	i.statter.Counter(i.sampleRate, i.prefix+"log.replayed.count", n)
}
