package snapshot

import (
	"context"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

// worklist is a queue of nodes shared by a fixed set of workers. pending
// counts queued plus in-flight nodes; the walk is over when it reaches zero.
type worklist struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*html.Node
	pending int
	aborted bool
}

func newWorklist(root *html.Node) *worklist {
	w := &worklist{queue: []*html.Node{root}, pending: 1}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *worklist) push(nodes []*html.Node) {
	if len(nodes) == 0 {
		return
	}
	w.mu.Lock()
	w.queue = append(w.queue, nodes...)
	w.pending += len(nodes)
	w.mu.Unlock()
	w.cond.Broadcast()
}

// pop blocks until a node is available. It returns false once the walk
// has drained or was aborted.
func (w *worklist) pop() (*html.Node, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 && w.pending > 0 && !w.aborted {
		w.cond.Wait()
	}
	if w.aborted || len(w.queue) == 0 {
		return nil, false
	}
	n := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return n, true
}

func (w *worklist) done() {
	w.mu.Lock()
	w.pending--
	last := w.pending == 0
	w.mu.Unlock()
	if last {
		w.cond.Broadcast()
	}
}

func (w *worklist) abort() {
	w.mu.Lock()
	w.aborted = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// walkTree runs visit over root and every node visit returns, using at most
// workers goroutines. The nodes returned by visit are queued only after
// visit returns. The first error stops the walk and is returned.
func walkTree(ctx context.Context, root *html.Node, workers int, visit func(context.Context, *html.Node) ([]*html.Node, error)) error {
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	wl := newWorklist(root)
	stop := context.AfterFunc(gctx, wl.abort)
	defer stop()

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				n, ok := wl.pop()
				if !ok {
					return gctx.Err()
				}
				next, err := visit(gctx, n)
				if err != nil {
					return err
				}
				wl.push(next)
				wl.done()
			}
		})
	}
	return g.Wait()
}
