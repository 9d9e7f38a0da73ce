package client

import (
	"fmt"

	"github.com/hdt3213/redimux/lib/logger"
	"github.com/hdt3213/redimux/lib/utils"
	"github.com/hdt3213/redimux/redis/protocol"
)

// Transaction is the scoped handle passed to a Multi closure. Commands
// issued through it resolve collectively from the EXEC reply.
type Transaction struct {
	c         *Client
	futures   []*Future // caller-facing, index-paired with the EXEC reply
	acks      []*Future // the immediate +QUEUED acknowledgements
	discarded bool
}

// Exec queues one command inside the transaction. The returned future
// resolves with this command's element of the EXEC reply, or fails with
// ErrTransactionAborted.
func (tx *Transaction) Exec(args [][]byte) *Future {
	ack := tx.c.Exec(args)
	captured := tx.c.newFuture(label(args))
	tx.acks = append(tx.acks, ack)
	tx.futures = append(tx.futures, captured)
	return captured
}

// Discard marks the transaction for rollback; DISCARD is issued after the
// closure returns
func (tx *Transaction) Discard() {
	tx.discarded = true
}

func (tx *Transaction) failAll(err error) {
	for _, fut := range tx.futures {
		fut.resolve(nil, err)
	}
}

// Multi runs fn against a transaction handle. MULTI is issued on entry;
// EXEC resolves every captured future with its positional result. A closure
// error, a panic, or Discard issues DISCARD instead and fails the captured
// futures with ErrTransactionAborted.
func (c *Client) Multi(fn func(tx *Transaction) error) error {
	if _, err := c.Exec(utils.ToCmdLine("MULTI")).Get(); err != nil {
		return err
	}
	tx := &Transaction{c: c}
	fnErr := runClosure(fn, tx)
	if fnErr != nil || tx.discarded {
		if _, err := c.Exec(utils.ToCmdLine("DISCARD")).Get(); err != nil {
			logger.Errorf("discard failed: %v", err)
		}
		tx.failAll(ErrTransactionAborted)
		return fnErr
	}
	reply, err := c.Exec(utils.ToCmdLine("EXEC")).Get()
	if err != nil {
		// the QUEUED acks have all resolved by now, name the culprits
		for _, ack := range tx.acks {
			if _, ackErr := ack.Get(); ackErr != nil {
				logger.Errorf("%s failed to queue: %v", ack.Label(), ackErr)
			}
		}
		tx.failAll(err)
		return err
	}
	switch r := reply.(type) {
	case *protocol.ArrayReply:
		if len(r.Elements) != len(tx.futures) {
			err = fmt.Errorf("exec returned %d results for %d queued commands",
				len(r.Elements), len(tx.futures))
			tx.failAll(err)
			return err
		}
		for i, element := range r.Elements {
			if errReply, ok := element.(*protocol.StandardErrReply); ok {
				tx.futures[i].resolve(element, makeServerError(errReply.Status))
			} else {
				tx.futures[i].resolve(element, nil)
			}
		}
		return nil
	case *protocol.EmptyMultiBulkReply:
		if len(tx.futures) > 0 {
			err = fmt.Errorf("exec returned no results for %d queued commands", len(tx.futures))
			tx.failAll(err)
			return err
		}
		return nil
	case *protocol.NullArrayReply:
		// the server rolled the transaction back, e.g. a WATCH fired
		tx.failAll(ErrTransactionAborted)
		return ErrTransactionAborted
	}
	err = fmt.Errorf("unexpected exec reply: %s", string(reply.ToBytes()))
	tx.failAll(err)
	return err
}

func runClosure(fn func(tx *Transaction) error, tx *Transaction) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("transaction closure panicked: %v", v)
		}
	}()
	return fn(tx)
}
