package nimbus

import "go.uber.org/zap"

// dispatcher drains the message queue on one background goroutine,
// classifies each message through the duplication filter, and routes it to
// the listener registry. It exits only on Stop (destroy(force=true)).
type dispatcher struct {
	queue     *messageQueue
	dup       *duplicationFilter
	listeners *ListenerRegistry
	logger    *zap.Logger

	done chan struct{}
}

func newDispatcher(queue *messageQueue, dup *duplicationFilter, listeners *ListenerRegistry, logger *zap.Logger) *dispatcher {
	return &dispatcher{
		queue:     queue,
		dup:       dup,
		listeners: listeners,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

func (d *dispatcher) Start() {
	go d.run()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		messages, ok := d.queue.Pop()
		if !ok {
			return
		}
		for _, msg := range messages {
			if d.dup.IsDuplicate(msg) {
				continue
			}
			switch msg.Kind() {
			case MessageKindPresence:
				d.listeners.AnnouncePresence(msg)
			default:
				d.listeners.AnnounceMessage(msg)
			}
		}
	}
}

// Stop closes the queue and waits for the drain goroutine to exit.
func (d *dispatcher) Stop() {
	d.queue.Close()
	<-d.done
}
