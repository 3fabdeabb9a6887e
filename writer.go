package expandodb

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/cris-almodovar/expandodb/internal/uid"
)

// writeOp is one request funneled through the single writer goroutine
// (§4.7, §5: "writes are serialized by the writer itself; callers may
// submit from any thread").
type writeOp struct {
	kind    writeKind
	doc     *mappedDoc
	id      string
	done    chan error
	genTag  string // a ULID stamped on every op, useful for writer-side tracing
}

type writeKind int

const (
	opInsert writeKind = iota
	opUpdate
	opDelete
)

// indexWriter commits documents into the underlying bleve index (§4.7);
// searches read the same index through searcherManager.
// Exactly one indexWriter exists per collection; every successful
// insert/update/delete is followed by a commit — here, a single bleve
// Index()/Delete() call, which bleve itself persists synchronously.
type indexWriter struct {
	index   bleve.Index
	ops     chan writeOp
	closed  chan struct{}
	log     Logger
}

func newIndexWriter(index bleve.Index, log Logger) *indexWriter {
	if log == nil {
		log = defaultLogger{}
	}
	w := &indexWriter{
		index:  index,
		ops:    make(chan writeOp),
		closed: make(chan struct{}),
		log:    log,
	}
	go w.run()
	return w
}

func (w *indexWriter) run() {
	for {
		select {
		case op := <-w.ops:
			op.done <- w.apply(op)
		case <-w.closed:
			return
		}
	}
}

func (w *indexWriter) apply(op writeOp) error {
	switch op.kind {
	case opInsert, opUpdate:
		if err := w.index.Index(op.doc.id, op.doc.fields); err != nil {
			return NewError("index commit failed", WithCode(ErrInternal), WithCause(err))
		}
		w.log.Trace("committed", map[string]any{"id": op.doc.id, "gen": op.genTag})
		return nil
	case opDelete:
		if err := w.index.Delete(op.id); err != nil {
			return NewError("index delete failed", WithCode(ErrInternal), WithCause(err))
		}
		w.log.Trace("committed delete", map[string]any{"id": op.id, "gen": op.genTag})
		return nil
	default:
		return fmt.Errorf("unknown write op %d", op.kind)
	}
}

// Insert adds doc and commits (§4.7: "insert(doc): add + commit").
func (w *indexWriter) Insert(ctx context.Context, doc *mappedDoc) error {
	return w.submit(ctx, writeOp{kind: opInsert, doc: doc, genTag: uid.New().String()})
}

// Update replaces doc (delete-by-term + add, in the same commit from the
// caller's point of view — bleve's Index() call on an existing id already
// behaves as an upsert, so no separate delete is required here).
func (w *indexWriter) Update(ctx context.Context, doc *mappedDoc) error {
	return w.submit(ctx, writeOp{kind: opUpdate, doc: doc, genTag: uid.New().String()})
}

// Delete removes the document with _id == id (§4.7).
func (w *indexWriter) Delete(ctx context.Context, id string) error {
	return w.submit(ctx, writeOp{kind: opDelete, id: id, genTag: uid.New().String()})
}

func (w *indexWriter) submit(ctx context.Context, op writeOp) error {
	op.done = make(chan error, 1)
	select {
	case w.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.closed:
		return NewError("writer is closed", WithCode(ErrEngineClosed))
	}
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the writer goroutine. It does not close the underlying bleve
// index — the engine owns that lifecycle (§4.9).
func (w *indexWriter) Close() {
	close(w.closed)
}
