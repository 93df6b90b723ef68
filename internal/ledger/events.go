package ledger

import "sync"

// EventType identifies a ledger event.
type EventType string

const (
	EventTypeRoundCreated    EventType = "round_created"
	EventTypeGuessSubmitted  EventType = "guess_submitted"
	EventTypeRoundSettled    EventType = "round_settled"
	EventTypeConfigChanged   EventType = "config_changed"
	EventTypeBalanceCredited EventType = "balance_credited"
)

func (et EventType) String() string {
	return string(et)
}

// Event is published after a mutation has been committed.
type Event interface {
	EventType() EventType
}

// RoundCreatedEvent is published when a new round opens.
type RoundCreatedEvent struct {
	Round Round
}

func (RoundCreatedEvent) EventType() EventType { return EventTypeRoundCreated }

// GuessSubmittedEvent is published after a guess is recorded. The option is
// deliberately left out so subscribers cannot leak it.
type GuessSubmittedEvent struct {
	RoundID          uint64
	Player           string
	Pool             uint64
	ParticipantCount uint32
}

func (GuessSubmittedEvent) EventType() EventType { return EventTypeGuessSubmitted }

// RoundSettledEvent is published after the reveal transition commits.
type RoundSettledEvent struct {
	Round  Round
	Result RoundResult
}

func (RoundSettledEvent) EventType() EventType { return EventTypeRoundSettled }

// ConfigChangedEvent is published after an admin configuration change.
type ConfigChangedEvent struct {
	Config GameConfig
}

func (ConfigChangedEvent) EventType() EventType { return EventTypeConfigChanged }

// BalanceCreditedEvent is published when an account is minted funds.
type BalanceCreditedEvent struct {
	Player  string
	Amount  uint64
	Balance uint64
}

func (BalanceCreditedEvent) EventType() EventType { return EventTypeBalanceCredited }

// EventSubscriber receives ledger events.
type EventSubscriber interface {
	OnEvent(event Event)
}

// EventSubscriberFunc adapts a function to EventSubscriber.
type EventSubscriberFunc func(Event)

func (f EventSubscriberFunc) OnEvent(event Event) { f(event) }

// EventBus fans events out to subscribers synchronously, in subscription order.
type EventBus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers []subscription
}

type subscription struct {
	id  int
	sub EventSubscriber
}

// Subscribe adds a subscriber and returns a function that removes it.
func (bus *EventBus) Subscribe(subscriber EventSubscriber) (unsubscribe func()) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.nextID++
	id := bus.nextID
	bus.subscribers = append(bus.subscribers, subscription{id: id, sub: subscriber})

	var once sync.Once
	return func() {
		once.Do(func() {
			bus.mu.Lock()
			defer bus.mu.Unlock()
			for i, s := range bus.subscribers {
				if s.id == id {
					bus.subscribers = append(bus.subscribers[:i], bus.subscribers[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers event to every subscriber.
func (bus *EventBus) Publish(event Event) {
	bus.mu.RLock()
	subs := make([]subscription, len(bus.subscribers))
	copy(subs, bus.subscribers)
	bus.mu.RUnlock()

	for _, s := range subs {
		s.sub.OnEvent(event)
	}
}
