// Package broker multiplexes progress and metadata messages from ingestion
// workers to subscribed viewer sessions, answers dataset-scoped molecule
// queries, and runs the inactivity eviction loops.
package broker

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jvo203/fits-web-ql-sub000/internal/molecule"
	"github.com/jvo203/fits-web-ql-sub000/internal/registry"
)

// Timeouts are the eviction constants of the broker. Session is the
// inactivity window after the last viewer disconnects (10 s in developer
// mode, 60 s in server mode), OrphanSweep the period of the global sweep,
// Dummy the generous window granted to cubes whose ingestion never finished.
type Timeouts struct {
	Session     time.Duration
	OrphanSweep time.Duration
	Dummy       time.Duration
}

// DefaultTimeouts returns the eviction constants for a server mode.
func DefaultTimeouts(serverMode bool) Timeouts {
	session := 10 * time.Second
	if serverMode {
		session = 60 * time.Second
	}
	return Timeouts{
		Session:     session,
		OrphanSweep: 600 * time.Second,
		Dummy:       24 * time.Hour,
	}
}

// command is one serialized broker operation.
type command interface{}

type connectCmd struct {
	id        uuid.UUID
	datasetID string
	send      chan string
	reply     chan string
}

type disconnectCmd struct {
	id        uuid.UUID
	datasetID string
}

type broadcastCmd struct {
	datasetID string
	payload   string
}

type freqRangeCmd struct {
	datasetID string
	lo, hi    float64
	done      chan struct{} // optional completion signal
}

type moleculesCmd struct {
	datasetID string
	reply     chan string
}

type queryCmd struct {
	lo, hi float64
	reply  chan string
}

// Broker tracks viewer sessions grouped by dataset identifier. All session
// and subscription bookkeeping happens on the broker goroutine; the periodic
// eviction activities take reader locks on the subscription map only.
type Broker struct {
	registry *registry.Registry
	catalog  *molecule.Catalog
	timeouts Timeouts

	cmds chan command
	done chan struct{}
	wg   sync.WaitGroup

	// broker goroutine only
	sessions map[uuid.UUID]chan string

	dmu      sync.RWMutex
	datasets map[string]map[uuid.UUID]struct{}

	mmu       sync.RWMutex
	molecules map[string]string

	logger *log.Logger
}

// New wires a broker over the dataset registry. catalog may be nil, in which
// case molecule lookups yield empty results.
func New(reg *registry.Registry, catalog *molecule.Catalog, timeouts Timeouts) *Broker {
	return &Broker{
		registry:  reg,
		catalog:   catalog,
		timeouts:  timeouts,
		cmds:      make(chan command, 256),
		done:      make(chan struct{}),
		sessions:  make(map[uuid.UUID]chan string),
		datasets:  make(map[string]map[uuid.UUID]struct{}),
		molecules: make(map[string]string),
		logger:    log.New(log.Writer(), "[SessionServer] ", log.LstdFlags),
	}
}

// Start launches the command loop and the orphan sweep.
func (b *Broker) Start() {
	b.wg.Add(2)
	go b.run()
	go b.orphanSweep()
}

// Stop terminates both loops. In-flight commands are drained first.
func (b *Broker) Stop() {
	close(b.done)
	b.wg.Wait()
}

func (b *Broker) run() {
	defer b.wg.Done()
	for {
		select {
		case cmd := <-b.cmds:
			b.dispatch(cmd)
		case <-b.done:
			// drain whatever is already queued, then close all sessions
			for {
				select {
				case cmd := <-b.cmds:
					b.dispatch(cmd)
				default:
					for id, send := range b.sessions {
						close(send)
						delete(b.sessions, id)
					}
					return
				}
			}
		}
	}
}

// dispatch never lets a handler bring the loop down; errors are logged and
// swallowed.
func (b *Broker) dispatch(cmd command) {
	switch msg := cmd.(type) {
	case connectCmd:
		b.handleConnect(msg)
	case disconnectCmd:
		b.handleDisconnect(msg)
	case broadcastCmd:
		b.handleBroadcast(msg)
	case freqRangeCmd:
		b.handleFrequencyRange(msg)
	case moleculesCmd:
		b.handleMolecules(msg)
	case queryCmd:
		b.handleQuery(msg)
	default:
		b.logger.Printf("unknown command %T", cmd)
	}
}

// ----------------------------------------------------------------------------
// public API
// ----------------------------------------------------------------------------

// Connect registers a session for a dataset and returns its identifier. The
// send channel receives every message broadcast to the dataset from this
// point on, in broker order.
func (b *Broker) Connect(datasetID string, send chan string) string {
	reply := make(chan string, 1)
	b.cmds <- connectCmd{id: uuid.New(), datasetID: datasetID, send: send, reply: reply}
	return <-reply
}

// Disconnect removes a session. Removing the last session of a dataset arms
// the delayed-eviction task.
func (b *Broker) Disconnect(id, datasetID string) {
	sid, err := uuid.Parse(id)
	if err != nil {
		b.logger.Printf("discarding disconnect with malformed session id %q", id)
		return
	}
	b.cmds <- disconnectCmd{id: sid, datasetID: datasetID}
}

// Broadcast forwards a payload to every session subscribed to the dataset.
// Unknown datasets are silently dropped. The call never blocks: when the
// broker queue is full the message is dropped and counted.
func (b *Broker) Broadcast(datasetID, payload string) {
	select {
	case b.cmds <- broadcastCmd{datasetID: datasetID, payload: payload}:
	default:
		messagesDropped.Inc()
	}
}

// progressEnvelope is the wire form of one ingestion progress event.
type progressEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Total   int32  `json:"total"`
	Running int32  `json:"running"`
}

// Progress posts one ingestion progress event. Implements fits.ProgressSink.
func (b *Broker) Progress(datasetID, stage string, total, running int32) {
	payload, err := json.Marshal(progressEnvelope{
		Type:    "progress",
		Message: stage,
		Total:   total,
		Running: running,
	})
	if err != nil {
		b.logger.Printf("progress envelope: %v", err)
		return
	}
	b.Broadcast(datasetID, string(payload))
}

// FrequencyRange publishes a dataset's spectral coverage asynchronously.
// Implements fits.ProgressSink.
func (b *Broker) FrequencyRange(datasetID string, lo, hi float64) {
	select {
	case b.cmds <- freqRangeCmd{datasetID: datasetID, lo: lo, hi: hi}:
	default:
		messagesDropped.Inc()
	}
}

// SetFrequencyRange publishes a dataset's spectral coverage and waits for the
// molecule cache to be populated. Used by the HTTP shell.
func (b *Broker) SetFrequencyRange(datasetID string, lo, hi float64) {
	done := make(chan struct{})
	b.cmds <- freqRangeCmd{datasetID: datasetID, lo: lo, hi: hi, done: done}
	<-done
}

// Molecules returns the cached catalog serialization for a dataset, or the
// empty string when none has been stored.
func (b *Broker) Molecules(datasetID string) string {
	reply := make(chan string, 1)
	b.cmds <- moleculesCmd{datasetID: datasetID, reply: reply}
	return <-reply
}

// QueryMolecules runs a one-off catalog lookup over [lo, hi] GHz without
// touching the per-dataset cache. The catalog stays confined to the broker
// goroutine.
func (b *Broker) QueryMolecules(lo, hi float64) string {
	reply := make(chan string, 1)
	b.cmds <- queryCmd{lo: lo, hi: hi, reply: reply}
	return <-reply
}

// ----------------------------------------------------------------------------
// handlers (broker goroutine)
// ----------------------------------------------------------------------------

func (b *Broker) handleConnect(msg connectCmd) {
	b.sessions[msg.id] = msg.send

	b.dmu.Lock()
	set, ok := b.datasets[msg.datasetID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		b.datasets[msg.datasetID] = set
	}
	set[msg.id] = struct{}{}
	b.dmu.Unlock()

	sessionsConnected.Inc()
	b.logger.Printf("registering a new session %s/%s", msg.datasetID, msg.id)
	msg.reply <- msg.id.String()
}

func (b *Broker) handleDisconnect(msg disconnectCmd) {
	send, ok := b.sessions[msg.id]
	if !ok {
		return
	}
	delete(b.sessions, msg.id)
	close(send)
	sessionsConnected.Dec()
	b.logger.Printf("removing a session %s/%s", msg.datasetID, msg.id)

	b.dmu.Lock()
	empty := false
	if set, ok := b.datasets[msg.datasetID]; ok {
		delete(set, msg.id)
		empty = len(set) == 0
	} else {
		b.logger.Printf("%s not found", msg.datasetID)
	}
	if empty {
		delete(b.datasets, msg.datasetID)
	}
	b.dmu.Unlock()

	if empty {
		b.logger.Printf("unlinking a dataset %s", msg.datasetID)
		datasetID := msg.datasetID
		time.AfterFunc(b.timeouts.Session, func() { b.collectGarbage(datasetID) })
	}
}

func (b *Broker) handleBroadcast(msg broadcastCmd) {
	b.dmu.RLock()
	set, ok := b.datasets[msg.datasetID]
	if !ok {
		b.dmu.RUnlock()
		return
	}
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	b.dmu.RUnlock()

	for _, id := range ids {
		send, ok := b.sessions[id]
		if !ok {
			continue
		}
		select {
		case send <- msg.payload:
			messagesBroadcast.Inc()
		default:
			// a stalled viewer loses messages rather than stalling the broker
			messagesDropped.Inc()
		}
	}
}

func (b *Broker) handleFrequencyRange(msg freqRangeCmd) {
	if msg.done != nil {
		defer close(msg.done)
	}

	b.logger.Printf("received a frequency range (%g, %g) GHz for '%s'", msg.lo, msg.hi, msg.datasetID)

	serialized := b.serializeRange(msg.lo, msg.hi)

	b.mmu.Lock()
	b.molecules[msg.datasetID] = serialized
	b.mmu.Unlock()
}

// serializeRange queries the catalog over [lo, hi] GHz and returns the JSON
// array. A zero bound, a missing catalog or a failed query all yield "[]".
func (b *Broker) serializeRange(lo, hi float64) string {
	if lo == 0.0 || hi == 0.0 || b.catalog == nil {
		return "[]"
	}

	mols, err := b.catalog.Query(lo, hi)
	if err != nil {
		b.logger.Printf("catalog query failed: %v", err)
		return "[]"
	}
	if len(mols) == 0 {
		return "[]"
	}

	raw, err := json.Marshal(mols)
	if err != nil {
		b.logger.Printf("catalog serialization failed: %v", err)
		return "[]"
	}
	return string(raw)
}

func (b *Broker) handleQuery(msg queryCmd) {
	msg.reply <- b.serializeRange(msg.lo, msg.hi)
}

func (b *Broker) handleMolecules(msg moleculesCmd) {
	b.mmu.RLock()
	contents := b.molecules[msg.datasetID]
	b.mmu.RUnlock()
	msg.reply <- contents
}

// ----------------------------------------------------------------------------
// eviction
// ----------------------------------------------------------------------------

// collectGarbage runs once per delayed-eviction task: when the dataset still
// has no sessions after the inactivity window, the cube and its molecule
// cache are dropped. Dummy cubes are left to the orphan sweep, whose window
// is long enough for a slow load to finish.
func (b *Broker) collectGarbage(datasetID string) {
	b.logger.Printf("executing garbage collection for %s", datasetID)

	b.dmu.RLock()
	_, active := b.datasets[datasetID]
	b.dmu.RUnlock()
	if active {
		b.logger.Printf("[garbage collection]: an active session has been found for %s, doing nothing", datasetID)
		return
	}

	cube, ok := b.registry.Read(datasetID)
	if !ok {
		b.logger.Printf("[garbage collection]: (warning) no registry entry for %s", datasetID)
		return
	}
	if cube.IsDummy() {
		return
	}

	b.evict(datasetID, "session")
}

// orphanSweep periodically reclaims datasets nobody subscribes to whose last
// access exceeds the applicable threshold.
func (b *Broker) orphanSweep() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.timeouts.OrphanSweep)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			candidates := b.registry.EvictionCandidates(now, b.timeouts.Session, b.timeouts.Dummy)
			for _, id := range candidates {
				b.dmu.RLock()
				_, active := b.datasets[id]
				b.dmu.RUnlock()
				if active {
					b.logger.Printf("[orphaned dataset cleanup]: an active session has been found for %s, doing nothing", id)
					continue
				}
				b.evict(id, "orphan")
			}
		case <-b.done:
			return
		}
	}
}

func (b *Broker) evict(datasetID, reason string) {
	b.mmu.Lock()
	delete(b.molecules, datasetID)
	b.mmu.Unlock()

	b.registry.Remove(datasetID)
	evictions.WithLabelValues(reason).Inc()
}

// String identifies the broker in logs.
func (b *Broker) String() string {
	return fmt.Sprintf("SessionServer(timeouts=%v)", b.timeouts)
}
