package signalbus

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/squadcore/core/internal/atomicfile"
	"github.com/squadcore/core/internal/squaderr"
	"github.com/squadcore/core/internal/workspace"
	"github.com/squadcore/core/observability"
)

// Handler receives messages delivered to a recipient. Handlers run
// synchronously inside Send, in registration order. A Handler returns no
// error, and a panic in one is not recovered: it propagates out of Send.
type Handler func(ctx context.Context, msg *Message)

// SendOptions customizes Send beyond the required sender/recipient/subject/body.
type SendOptions struct {
	Priority    Priority
	WorkItemID  string
	ConvoyID    string
	ThreadID    string
	ReplyTo     string
	RequiresAck bool
	TTL         time.Duration
	Metadata    map[string]any
	Attachments []string
}

// Bus is the persistent mailbox-per-owner signal bus.
type Bus struct {
	mu       sync.Mutex
	paths    workspace.Paths
	lock     *atomicfile.Lock
	observer observability.Observer

	messages  map[string]*Message
	mailboxes map[string]*Mailbox
	handlers  map[string][]Handler
}

// New builds a Bus persisting under workspaceRoot/.squad/signal/.
func New(workspaceRoot string, observer observability.Observer) (*Bus, error) {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}

	paths := workspace.Resolve(workspaceRoot)
	b := &Bus{
		paths:     paths,
		lock:      atomicfile.NewLock(paths.Messages()),
		observer:  observer,
		messages:  make(map[string]*Message),
		mailboxes: make(map[string]*Mailbox),
		handlers:  make(map[string][]Handler),
	}

	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bus) load() error {
	messages, err := loadJSON[Message](b.paths.Messages())
	if err != nil {
		return err
	}
	b.messages = messages

	mailboxes, err := loadJSON[Mailbox](b.paths.Mailboxes())
	if err != nil {
		return err
	}
	b.mailboxes = mailboxes

	return nil
}

func loadJSON[T any](path string) (map[string]*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*T), nil
		}
		return nil, squaderr.IOFailure("read "+path, err)
	}

	out := make(map[string]*T)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, squaderr.IOFailure("parse "+path, err)
	}
	return out, nil
}

func (b *Bus) saveLocked() error {
	data, err := json.MarshalIndent(b.messages, "", "  ")
	if err != nil {
		return squaderr.IOFailure("marshal messages", err)
	}
	if err := atomicfile.Write(b.paths.Messages(), data, 0o644); err != nil {
		return err
	}

	data, err = json.MarshalIndent(b.mailboxes, "", "  ")
	if err != nil {
		return squaderr.IOFailure("marshal mailboxes", err)
	}
	return atomicfile.Write(b.paths.Mailboxes(), data, 0o644)
}

func (b *Bus) withTxn(ctx context.Context, fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lock.WithLock(ctx, func() error {
		if err := b.load(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		return b.saveLocked()
	})
}

func (b *Bus) mailbox(owner string) *Mailbox {
	mb, ok := b.mailboxes[owner]
	if !ok {
		mb = &Mailbox{Owner: owner}
		b.mailboxes[owner] = mb
	}
	return mb
}

// Send delivers a message from sender to recipient ("broadcast" fans out
// to every known mailbox). The returned Message reflects the assigned id
// and delivery status.
func (b *Bus) Send(ctx context.Context, sender, recipient, subject, body string, opts SendOptions) (*Message, error) {
	msg := &Message{
		ID:          "msg-" + uuid.New().String()[:12],
		Sender:      sender,
		Recipient:   recipient,
		Subject:     subject,
		Body:        body,
		Priority:    orDefault(opts.Priority, PriorityNormal),
		Status:      StatusPending,
		WorkItemID:  opts.WorkItemID,
		ConvoyID:    opts.ConvoyID,
		ReplyTo:     opts.ReplyTo,
		RequiresAck: opts.RequiresAck,
		Metadata:    opts.Metadata,
		Attachments: opts.Attachments,
		CreatedAt:   time.Now(),
	}
	if opts.ThreadID != "" {
		msg.ThreadID = opts.ThreadID
	} else {
		msg.ThreadID = msg.ID
	}
	if opts.TTL > 0 {
		exp := msg.CreatedAt.Add(opts.TTL)
		msg.ExpiresAt = &exp
	}

	err := b.withTxn(ctx, func() error {
		b.messages[msg.ID] = msg
		b.mailbox(sender).Outbox = append(b.mailbox(sender).Outbox, msg.ID)

		if recipient == "broadcast" {
			for owner, mb := range b.mailboxes {
				if owner != sender {
					mb.Inbox = append(mb.Inbox, msg.ID)
				}
			}
		} else {
			b.mailbox(recipient).Inbox = append(b.mailbox(recipient).Inbox, msg.ID)
		}
		msg.markDelivered()
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.triggerHandlers(ctx, recipient, msg)
	b.emit(ctx, EventMessageSent, observability.LevelInfo, map[string]any{
		"id": msg.ID, "sender": sender, "recipient": recipient,
	})

	return msg, nil
}

func orDefault(p Priority, def Priority) Priority {
	if p == "" {
		return def
	}
	return p
}

// Get returns a message by id.
func (b *Bus) Get(ctx context.Context, id string) (*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(); err != nil {
		return nil, err
	}
	msg, ok := b.messages[id]
	if !ok {
		return nil, squaderr.NotFound("message", id)
	}
	return msg, nil
}

// Inbox returns the owner's inbox, optionally filtered to unread messages
// and/or a priority, sorted urgent-first then by creation time.
func (b *Bus) Inbox(ctx context.Context, owner string, unreadOnly bool, priority Priority) ([]*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(); err != nil {
		return nil, err
	}

	mb := b.mailbox(owner)
	var out []*Message
	for _, id := range mb.Inbox {
		msg, ok := b.messages[id]
		if !ok {
			continue
		}
		if msg.IsExpired() {
			msg.Status = StatusExpired
			continue
		}
		if unreadOnly && msg.Status != StatusPending && msg.Status != StatusDelivered {
			continue
		}
		if priority != "" && msg.Priority != priority {
			continue
		}
		out = append(out, msg)
	}

	sort.Slice(out, func(i, j int) bool {
		if priorityRank[out[i].Priority] != priorityRank[out[j].Priority] {
			return priorityRank[out[i].Priority] < priorityRank[out[j].Priority]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// Outbox returns messages sent by owner.
func (b *Bus) Outbox(ctx context.Context, owner string) ([]*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(); err != nil {
		return nil, err
	}

	mb := b.mailbox(owner)
	out := make([]*Message, 0, len(mb.Outbox))
	for _, id := range mb.Outbox {
		if msg, ok := b.messages[id]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Thread returns every message sharing threadID, ordered by creation time.
func (b *Bus) Thread(ctx context.Context, threadID string) ([]*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(); err != nil {
		return nil, err
	}

	var out []*Message
	for _, msg := range b.messages {
		if msg.ThreadID == threadID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MarkRead marks a message read, verifying the reader's mailbox holds it.
func (b *Bus) MarkRead(ctx context.Context, id, reader string) (bool, error) {
	var ok bool
	err := b.withTxn(ctx, func() error {
		msg, found := b.messages[id]
		if !found {
			return nil
		}
		if !containsID(b.mailbox(reader).Inbox, id) {
			return nil
		}
		msg.markRead()
		ok = true
		return nil
	})
	return ok, err
}

// Acknowledge marks a message acknowledged, verifying the acknowledger's
// mailbox holds it.
func (b *Bus) Acknowledge(ctx context.Context, id, acknowledger string) (bool, error) {
	var ok bool
	err := b.withTxn(ctx, func() error {
		msg, found := b.messages[id]
		if !found {
			return nil
		}
		if !containsID(b.mailbox(acknowledger).Inbox, id) {
			return nil
		}
		msg.markAcknowledged()
		ok = true
		return nil
	})
	if ok {
		b.emit(ctx, EventMessageAcked, observability.LevelInfo, map[string]any{"id": id, "by": acknowledger})
	}
	return ok, err
}

// Reply sends a threaded reply to originalID from sender, carrying over
// the thread id, work item, and convoy context.
func (b *Bus) Reply(ctx context.Context, originalID, sender, body, subjectPrefix string) (*Message, error) {
	original, err := b.Get(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if subjectPrefix == "" {
		subjectPrefix = "Re: "
	}

	return b.Send(ctx, sender, original.Sender, subjectPrefix+original.Subject, body, SendOptions{
		ThreadID:   original.ThreadID,
		ReplyTo:    originalID,
		WorkItemID: original.WorkItemID,
		ConvoyID:   original.ConvoyID,
	})
}

// Archive moves a message from owner's inbox to their archive.
func (b *Bus) Archive(ctx context.Context, owner, id string) (bool, error) {
	var ok bool
	err := b.withTxn(ctx, func() error {
		mb := b.mailbox(owner)
		idx := indexOf(mb.Inbox, id)
		if idx < 0 {
			return nil
		}
		mb.Inbox = append(mb.Inbox[:idx], mb.Inbox[idx+1:]...)
		mb.Archived = append(mb.Archived, id)
		ok = true
		return nil
	})
	return ok, err
}

// Delete permanently removes a message from the bus and every mailbox
// index referencing it.
func (b *Bus) Delete(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := b.withTxn(ctx, func() error {
		if _, found := b.messages[id]; !found {
			return nil
		}
		for _, mb := range b.mailboxes {
			mb.Inbox = removeID(mb.Inbox, id)
			mb.Outbox = removeID(mb.Outbox, id)
			mb.Archived = removeID(mb.Archived, id)
		}
		delete(b.messages, id)
		ok = true
		return nil
	})
	return ok, err
}

// RegisterHandler attaches a handler invoked for every message delivered
// to recipient (or to every message when recipient is "broadcast").
func (b *Bus) RegisterHandler(recipient string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[recipient] = append(b.handlers[recipient], h)
}

func (b *Bus) triggerHandlers(ctx context.Context, recipient string, msg *Message) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[recipient]...)
	var broadcast []Handler
	if recipient != "broadcast" {
		broadcast = append([]Handler(nil), b.handlers["broadcast"]...)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
	for _, h := range broadcast {
		h(ctx, msg)
	}
}

// PendingAcks returns messages sent by sender that require acknowledgment
// and have not yet been acknowledged.
func (b *Bus) PendingAcks(ctx context.Context, sender string) ([]*Message, error) {
	out, err := b.Outbox(ctx, sender)
	if err != nil {
		return nil, err
	}
	var pending []*Message
	for _, msg := range out {
		if msg.RequiresAck && msg.Status != StatusAcknowledged {
			pending = append(pending, msg)
		}
	}
	return pending, nil
}

// UnreadCount returns the count of unread messages in owner's inbox.
func (b *Bus) UnreadCount(ctx context.Context, owner string) (int, error) {
	inbox, err := b.Inbox(ctx, owner, true, "")
	if err != nil {
		return 0, err
	}
	return len(inbox), nil
}

// CleanupExpired marks every expired message as Expired and persists the
// change, returning the number affected.
func (b *Bus) CleanupExpired(ctx context.Context) (int, error) {
	count := 0
	err := b.withTxn(ctx, func() error {
		for _, msg := range b.messages {
			if msg.IsExpired() && msg.Status != StatusExpired {
				msg.Status = StatusExpired
				count++
			}
		}
		return nil
	})
	return count, err
}

// Stats summarizes message counts by status and priority.
func (b *Bus) Stats(ctx context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		ByStatus:   make(map[Status]int),
		ByPriority: make(map[Priority]int),
		Mailboxes:  len(b.mailboxes),
	}
	for _, msg := range b.messages {
		stats.Total++
		stats.ByStatus[msg.Status]++
		stats.ByPriority[msg.Priority]++
	}
	return stats, nil
}

func (b *Bus) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	b.observer.OnEvent(ctx, observability.Event{
		Type: typ, Level: level, Timestamp: time.Now(), Source: "signalbus", Data: data,
	})
}

func containsID(list []string, id string) bool { return indexOf(list, id) >= 0 }

func indexOf(list []string, id string) int {
	for i, x := range list {
		if x == id {
			return i
		}
	}
	return -1
}

func removeID(list []string, id string) []string {
	idx := indexOf(list, id)
	if idx < 0 {
		return list
	}
	return append(list[:idx], list[idx+1:]...)
}
