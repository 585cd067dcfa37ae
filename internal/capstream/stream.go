// Package capstream implements Stream, the per-TCP-connection object
// described in spec §3/§4.3: it owns a connection's reconstructed MySQL
// packets, assembles the command currently pending (including any
// oversized-command continuation chain), optionally records to a replay
// file, and optionally drives a replay worker against a live MySQL server.
//
// Grounded on the overall "one object per connection, one goroutine drains
// it" shape of tcpStream in middle/capture/stream.go (teacher repository),
// and on the MySQL-specific admission/retransmit/replay logic in
// mysql_stream.cc and mysql_stream_manager.cc (original implementation).
// Rather than the original's manually reference-counted, doubly-linked
// packet list guarded by two mutexes and a condition variable, packets
// live in a per-stream arena slice and a completed command's text is
// captured into a plain string the moment its packet chain finishes
// assembling — the constituent packets are freed right then, and nothing
// downstream ever dereferences a packet pointer that might have been
// unlinked out from under it. The replay worker consumes already-assembled
// command text over a bounded channel, per spec §9's design note
// recommending exactly this simplification.
package capstream

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spachev/mysqlpcap/internal/mysqlwire"
	"github.com/spachev/mysqlpcap/internal/replay"
)

// mid-stream join keyword list per §4.3: SELECT, UPDATE, DELETE, ALTER,
// CALL, SHOW (a superset of the original C++'s could_be_query(), which
// lacks SHOW; spec.md's fuller list governs since it is not silent here).
var midStreamJoinKeywords = []string{"SELECT", "UPDATE", "DELETE", "ALTER", "CALL", "SHOW"}

// LooksLikeQuery reports whether payload's COM_QUERY opcode byte is
// present and its command text contains, case-insensitively, one of the
// mid-stream join keywords, per §4.3's mid-stream join heuristic.
func LooksLikeQuery(payload []byte) bool {
	if len(payload) < 2 || payload[0] != mysqlwire.ComQuery {
		return false
	}
	upper := strings.ToUpper(string(payload[1:]))
	for _, kw := range midStreamJoinKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

// QueryObservation is the value-copied record of one completed query the
// stream hands to its StatsSink — text, timestamp and exec_time only, never
// a shared pointer into the packet list, per the design note about avoiding
// cross-ownership between the packet list and the slow-query set.
type QueryObservation struct {
	StreamKey uint64
	Text      string
	Timestamp time.Time
	ExecTime  time.Duration
}

// StatsSink receives query observations, either capture-derived (from the
// dispatch thread's own classification) or replay-derived (from this
// stream's replay worker). The stream manager implements this.
type StatsSink interface {
	RegisterObservation(obs QueryObservation, fromReplay bool)
	ReportParseError(query string, err error)
}

// Recorder receives raw packet bytes for optional persistence to a replay
// file. The stream manager implements this, backed by internal/recording.
type Recorder interface {
	RecordPacket(streamKey uint64, dir mysqlwire.Direction, ts time.Time, payload []byte) error
}

// Config bundles the pieces a Stream needs from its manager at creation
// time.
type Config struct {
	Key                 uint64
	SrcIP, DstIP        string
	SrcPort, DstPort    uint16
	Accounting          *mysqlwire.Accounting
	Stats               StatsSink
	Recorder            Recorder // nil if not recording
	Replay              bool
	ReplayClientFactory func() replay.Client
	ReplaySpeed         float64
	ReplayStart         time.Time
	AssertOnQueryError  func(err error)
	IgnoreDupKeyErrors  bool
	QueryErrorLog       func(err error)
}

// replayJob is one fully-assembled command handed to the replay worker: its
// text is already extracted from the packet chain that produced it, so the
// worker never needs to reach back into the (possibly already freed)
// packet arena.
type replayJob struct {
	text []byte
	ts   time.Time
}

// Stream is a single reconstructed MySQL connection.
type Stream struct {
	cfg Config

	mu          sync.Mutex
	packets     []*mysqlwire.Packet
	reachedEOF  bool
	haveSeqC2S  bool
	lastSeqC2S  uint32
	haveSeqS2C  bool
	lastSeqS2C  uint32
	firstTS     time.Time
	haveFirstTS bool

	// chainIndices accumulates the client->server packet indices making up
	// the COM_QUERY currently being assembled; more than one entry only
	// occurs for an oversized command spanning the 0xFFFFFF continuation
	// sentinel.
	chainIndices []int
	chainHeadTS  time.Time

	// awaitingText/awaitingTS hold a fully-assembled command's text,
	// captured the instant its chain completed, pending the matching EOF
	// response so its capture-derived execution time can be computed. Only
	// used outside replay mode — in replay mode a completed chain is
	// dispatched to the replay worker immediately instead.
	awaitingText []byte
	awaitingTS   time.Time
	haveAwaiting bool

	clientFramer *mysqlwire.Framer
	serverFramer *mysqlwire.Framer

	replayCh   chan replayJob
	workerDone chan struct{}
}

// New creates a Stream and, if cfg.Replay is set, starts its replay
// worker goroutine.
func New(cfg Config) *Stream {
	s := &Stream{
		cfg:      cfg,
		replayCh: make(chan replayJob, 4096),
	}
	s.clientFramer = mysqlwire.NewFramer(mysqlwire.ClientToServer, cfg.Accounting, s.onPacketComplete)
	s.serverFramer = mysqlwire.NewFramer(mysqlwire.ServerToClient, cfg.Accounting, s.onPacketComplete)

	if cfg.Replay {
		s.workerDone = make(chan struct{})
		go s.replayWorker()
	}

	return s
}

// AcceptSegment applies retransmit suppression for the given direction and,
// if the segment is accepted, feeds its payload to the corresponding
// framer. It returns false if the segment was rejected as a retransmit.
func (s *Stream) AcceptSegment(dir mysqlwire.Direction, seq uint32, payload []byte, ts time.Time) bool {
	s.mu.Lock()
	if !s.haveFirstTS {
		s.firstTS = ts
		s.haveFirstTS = true
	}

	var haveSeq *bool
	var lastSeq *uint32
	if dir == mysqlwire.ClientToServer {
		haveSeq, lastSeq = &s.haveSeqC2S, &s.lastSeqC2S
	} else {
		haveSeq, lastSeq = &s.haveSeqS2C, &s.lastSeqS2C
	}

	if *haveSeq && int32(seq-*lastSeq) <= 0 {
		s.mu.Unlock()
		return false
	}
	*haveSeq = true
	*lastSeq = seq
	s.mu.Unlock()

	if dir == mysqlwire.ClientToServer {
		s.clientFramer.Append(payload, ts)
	} else {
		s.serverFramer.Append(payload, ts)
	}
	return true
}

// onPacketComplete is the Framer completion hook (§4.2 step 3 / §4.3). It
// runs on the dispatch thread.
func (s *Stream) onPacketComplete(p *mysqlwire.Packet) {
	s.mu.Lock()
	s.packets = append(s.packets, p)
	idx := len(s.packets) - 1

	switch {
	case p.IsComQuery():
		p.IsQuery = true
		s.chainIndices = []int{idx}
		s.chainHeadTS = p.Timestamp
		complete := !p.IsOversizedHead()
		s.mu.Unlock()

		if s.cfg.Recorder != nil {
			_ = s.cfg.Recorder.RecordPacket(s.cfg.Key, p.Direction, p.Timestamp, p.Payload())
		}
		if complete {
			s.finalizeChain()
		}
		return

	case p.Direction == mysqlwire.ClientToServer && len(s.chainIndices) > 0 &&
		s.packets[s.chainIndices[len(s.chainIndices)-1]].IsOversizedHead():
		// Continuation chunk of an in-progress oversized command.
		s.chainIndices = append(s.chainIndices, idx)
		complete := !p.IsOversizedHead()
		s.mu.Unlock()

		if s.cfg.Recorder != nil {
			_ = s.cfg.Recorder.RecordPacket(s.cfg.Key, p.Direction, p.Timestamp, p.Payload())
		}
		if complete {
			s.finalizeChain()
		}
		return

	case s.haveAwaiting && p.IsEOF():
		text := s.awaitingText
		ts := s.awaitingTS
		s.haveAwaiting = false
		s.awaitingText = nil
		execTime := p.Timestamp.Sub(ts)
		s.mu.Unlock()

		s.cfg.Stats.RegisterObservation(QueryObservation{
			StreamKey: s.cfg.Key,
			Text:      string(text),
			Timestamp: ts,
			ExecTime:  execTime,
		}, false)
		s.unlink(idx)
		return

	default:
		// Not part of any pending query chain, and not a matching EOF;
		// nothing else references it.
		s.mu.Unlock()
		s.unlink(idx)
		return
	}
}

// finalizeChain captures the text of the just-completed command chain,
// frees its constituent packets, and either dispatches it to the replay
// worker or stores it to await the matching capture-derived EOF — exactly
// once, at the moment the chain is known to be complete, so no later code
// path ever reads from a packet that might already be freed.
func (s *Stream) finalizeChain() {
	s.mu.Lock()
	indices := s.chainIndices
	s.chainIndices = nil
	headTS := s.chainHeadTS

	var buf bytes.Buffer
	for i, idx := range indices {
		p := s.packets[idx]
		if i == 0 {
			buf.Write(p.QueryText())
		} else {
			buf.Write(p.Payload())
		}
	}
	text := buf.Bytes()

	if s.cfg.Replay {
		s.mu.Unlock()
		s.replayCh <- replayJob{text: text, ts: headTS}
		s.mu.Lock()
	} else {
		s.awaitingText = text
		s.awaitingTS = headTS
		s.haveAwaiting = true
	}

	for _, idx := range indices {
		s.packets[idx].Free(s.cfg.Accounting)
		s.packets[idx] = nil
	}
	s.mu.Unlock()
}

// unlink frees the packet at idx (not part of any pending chain) and clears
// its arena slot.
func (s *Stream) unlink(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.packets) || s.packets[idx] == nil {
		return
	}
	s.packets[idx].Free(s.cfg.Accounting)
	s.packets[idx] = nil
}

// Finish marks end-of-capture for this stream: no more segments will
// arrive. It closes the worker channel (if replay is enabled) so the
// replay worker, once it drains remaining jobs, exits.
func (s *Stream) Finish() {
	s.mu.Lock()
	s.reachedEOF = true
	s.mu.Unlock()

	if s.cfg.Replay {
		close(s.replayCh)
		<-s.workerDone
	}
}

// replayWorker is the per-stream replay goroutine described in §4.3/§5. It
// consumes already-assembled command text, so it never touches the packet
// arena.
func (s *Stream) replayWorker() {
	defer close(s.workerDone)

	var client replay.Client
	ctx := context.Background()

	for job := range s.replayCh {
		s.replayOne(ctx, &client, job)
	}

	if client != nil {
		client.Close()
	}
}

func (s *Stream) replayOne(ctx context.Context, client *replay.Client, job replayJob) {
	scheduled := s.scheduledTime(job.ts)
	if s.cfg.ReplaySpeed != 0 {
		if d := time.Until(scheduled); d > 0 {
			time.Sleep(d)
		}
	}

	text := string(job.text)

	if *client == nil {
		*client = s.cfg.ReplayClientFactory()
		if err := (*client).Connect(ctx); err != nil {
			if s.cfg.QueryErrorLog != nil {
				s.cfg.QueryErrorLog(err)
			}
			*client = nil
			return
		}
	}

	start := time.Now()
	err := (*client).ExecQuery(ctx, text)
	elapsed := time.Since(start)

	if err != nil {
		if s.cfg.QueryErrorLog != nil {
			s.cfg.QueryErrorLog(err)
		}
		if replay.IsDuplicateKeyError(err) && s.cfg.IgnoreDupKeyErrors {
			// Treated as success for progress purposes; not recorded as
			// a statistics observation, per §4.3's error policy.
			return
		}
		if s.cfg.AssertOnQueryError != nil {
			s.cfg.AssertOnQueryError(err)
		}
		return
	}

	s.cfg.Stats.RegisterObservation(QueryObservation{
		StreamKey: s.cfg.Key,
		Text:      text,
		Timestamp: job.ts,
		ExecTime:  elapsed,
	}, true)
}

// scheduledTime computes replay_start + (capture_ts - first_capture_ts) /
// replay_speed, per §4.3. A replay_speed of 0 is handled by the caller,
// which skips the pacing sleep entirely (resolved Open Question: pacing is
// disabled, the worker still runs and dispatches immediately).
func (s *Stream) scheduledTime(captureTS time.Time) time.Time {
	s.mu.Lock()
	first := s.firstTS
	s.mu.Unlock()

	if s.cfg.ReplaySpeed == 0 {
		return s.cfg.ReplayStart
	}
	offset := captureTS.Sub(first)
	scaled := time.Duration(float64(offset) / s.cfg.ReplaySpeed)
	return s.cfg.ReplayStart.Add(scaled)
}

// DiagnosticID returns a UUID-based identifier for log correlation, never
// used for protocol semantics.
func DiagnosticID() string {
	return uuid.NewString()
}
