package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-dict/logger"
	"github.com/zhukovaskychina/xmysql-dict/server/innodb/dict"
)

var (
	_ dict.MDLContext = (*MDLSession)(nil)
	_ dict.MDLTicket  = (*MDLTicket)(nil)
)

// mdlLock 一个对象名上的元数据锁
type mdlLock struct {
	key       dict.MDLKey
	shared    map[uint64]int // session -> 持有次数
	exclusive uint64         // 持有排他锁的 session，0 表示无
	xCount    int
	waitingX  int           // 等待排他锁的请求数，大于 0 时新的共享锁请求需要等待
	changed   chan struct{} // 锁状态变化时关闭并替换
}

func newMDLLock(key dict.MDLKey) *mdlLock {
	return &mdlLock{
		key:     key,
		shared:  make(map[uint64]int),
		changed: make(chan struct{}),
	}
}

func (l *mdlLock) grantable(sid uint64, exclusive bool) bool {
	if l.exclusive != 0 && l.exclusive != sid {
		return false
	}
	if exclusive {
		for holder := range l.shared {
			if holder != sid {
				return false
			}
		}
		return true
	}
	return l.waitingX == 0 || l.shared[sid] > 0 || l.exclusive == sid
}

func (l *mdlLock) idle() bool {
	return len(l.shared) == 0 && l.exclusive == 0 && l.waitingX == 0
}

func (l *mdlLock) notify() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// MDLStats 元数据锁统计
type MDLStats struct {
	Granted     uint64
	Waits       uint64
	Timeouts    uint64
	Unavailable uint64
}

// MDLManager 元数据锁管理器，按 (db, table) 加共享锁或排他锁。
// DML 打开表时持有共享锁，DDL 修改表定义时持有排他锁
type MDLManager struct {
	mu          sync.Mutex
	locks       map[dict.MDLKey]*mdlLock
	waitTimeout time.Duration
	nextSession atomic.Uint64
	stats       MDLStats
}

// NewMDLManager 创建元数据锁管理器，waitTimeout 为 0 时只受 context 约束
func NewMDLManager(waitTimeout time.Duration) *MDLManager {
	return &MDLManager{
		locks:       make(map[dict.MDLKey]*mdlLock),
		waitTimeout: waitTimeout,
	}
}

// NewSession 创建会话级加锁上下文
func (m *MDLManager) NewSession() *MDLSession {
	return &MDLSession{
		id:      m.nextSession.Add(1),
		mgr:     m,
		tickets: make(map[*MDLTicket]struct{}),
	}
}

// Stats 统计信息
func (m *MDLManager) Stats() MDLStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Holders 对象上的共享锁会话数以及是否有排他锁
func (m *MDLManager) Holders(key dict.MDLKey) (shared int, exclusive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.locks[key]
	if l == nil {
		return 0, false
	}
	return len(l.shared), l.exclusive != 0
}

func (m *MDLManager) lockFor(key dict.MDLKey) *mdlLock {
	l := m.locks[key]
	if l == nil {
		l = newMDLLock(key)
		m.locks[key] = l
	}
	return l
}

func (m *MDLManager) acquire(ctx context.Context, sid uint64, key dict.MDLKey, exclusive, nowait bool) error {
	var timeout <-chan time.Time
	if m.waitTimeout > 0 && !nowait {
		timer := time.NewTimer(m.waitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	waited := false
	for {
		l := m.lockFor(key)
		if l.grantable(sid, exclusive) {
			if exclusive {
				l.exclusive = sid
				l.xCount++
			} else {
				l.shared[sid]++
			}
			m.stats.Granted++
			return nil
		}

		if nowait {
			m.stats.Unavailable++
			if l.idle() {
				delete(m.locks, key)
			}
			return errors.Annotatef(dict.ErrLockUnavailable, "%s", key)
		}

		if !waited {
			m.stats.Waits++
			waited = true
		}
		ch := l.changed
		if exclusive {
			l.waitingX++
		}
		m.mu.Unlock()

		var err error
		select {
		case <-ch:
		case <-ctx.Done():
			err = errors.Trace(ctx.Err())
		case <-timeout:
			err = errors.Annotatef(ErrMDLTimeout, "%s", key)
		}

		m.mu.Lock()
		if exclusive {
			l.waitingX--
			if l.waitingX == 0 {
				// 放行被排他锁等待者挡住的共享锁请求
				l.notify()
			}
		}
		if err != nil {
			if errors.Cause(err) == ErrMDLTimeout {
				m.stats.Timeouts++
			}
			if l.idle() && m.locks[key] == l {
				delete(m.locks, key)
			}
			return err
		}
	}
}

func (m *MDLManager) release(sid uint64, key dict.MDLKey, exclusive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.locks[key]
	if l == nil {
		logger.Warnf("release of unknown metadata lock %s by session %d", key, sid)
		return
	}
	if exclusive {
		if l.exclusive != sid {
			logger.Warnf("session %d releases exclusive lock %s held by %d", sid, key, l.exclusive)
			return
		}
		l.xCount--
		if l.xCount == 0 {
			l.exclusive = 0
		}
	} else {
		l.shared[sid]--
		if l.shared[sid] <= 0 {
			delete(l.shared, sid)
		}
	}
	l.notify()
	if l.idle() {
		delete(m.locks, key)
	}
}

// MDLTicket 已授予的元数据锁
type MDLTicket struct {
	key       dict.MDLKey
	exclusive bool
}

// Key 锁对象名
func (t *MDLTicket) Key() dict.MDLKey {
	return t.key
}

// Exclusive 是否为排他锁
func (t *MDLTicket) Exclusive() bool {
	return t.exclusive
}

// MDLSession 会话的元数据锁上下文，实现 dict.MDLContext
type MDLSession struct {
	id  uint64
	mgr *MDLManager

	mu      sync.Mutex
	tickets map[*MDLTicket]struct{}
	closed  bool
}

// ID 会话ID
func (s *MDLSession) ID() uint64 {
	return s.id
}

// AcquireShared 获取共享锁
func (s *MDLSession) AcquireShared(ctx context.Context, key dict.MDLKey, nowait bool) (dict.MDLTicket, error) {
	ticket, err := s.acquire(ctx, key, false, nowait)
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// AcquireExclusive 获取排他锁
func (s *MDLSession) AcquireExclusive(ctx context.Context, key dict.MDLKey, nowait bool) (*MDLTicket, error) {
	return s.acquire(ctx, key, true, nowait)
}

func (s *MDLSession) acquire(ctx context.Context, key dict.MDLKey, exclusive, nowait bool) (*MDLTicket, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.Trace(ErrMDLSessionEnded)
	}

	if err := s.mgr.acquire(ctx, s.id, key, exclusive, nowait); err != nil {
		return nil, err
	}
	ticket := &MDLTicket{key: key, exclusive: exclusive}
	s.mu.Lock()
	s.tickets[ticket] = struct{}{}
	s.mu.Unlock()
	return ticket, nil
}

// Release 释放一个锁，nil 忽略
func (s *MDLSession) Release(ticket dict.MDLTicket) {
	if ticket == nil {
		return
	}
	t, ok := ticket.(*MDLTicket)
	if !ok {
		logger.Warnf("session %d: foreign metadata lock ticket %s", s.id, ticket.Key())
		return
	}

	s.mu.Lock()
	_, held := s.tickets[t]
	delete(s.tickets, t)
	s.mu.Unlock()
	if !held {
		logger.Warnf("session %d: %v", s.id, errors.Annotatef(ErrMDLNotHeld, "%s", t.key))
		return
	}
	s.mgr.release(s.id, t.key, t.exclusive)
}

// Held 会话持有的锁数量
func (s *MDLSession) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

// ReleaseAll 会话结束时释放全部锁
func (s *MDLSession) ReleaseAll() {
	s.mu.Lock()
	tickets := make([]*MDLTicket, 0, len(s.tickets))
	for t := range s.tickets {
		tickets = append(tickets, t)
	}
	s.tickets = make(map[*MDLTicket]struct{})
	s.closed = true
	s.mu.Unlock()

	for _, t := range tickets {
		s.mgr.release(s.id, t.key, t.exclusive)
	}
}
