package notification

import (
	"errors"
	"fmt"
	"sync"
)

// Sender は配信グループに登録される送信先。Sessionが実装する。
type Sender interface {
	// Deliver はペイロードを送信キューに積む。ブロックしてはならない。
	Deliver(p Payload) error
	// Drop は配信失敗により送信先をグループから外したことを通知する。
	Drop(reason error)
}

// BroadcastResult はBroadcastの結果。
type BroadcastResult struct {
	// Delivered は送信キューに積めたセッション数。
	Delivered int `json:"delivered"`
	// Dropped は送信キューが溢れたためグループから外したセッション数。
	Dropped int `json:"dropped"`
	// Closed は既に終了処理に入っていたためグループから外したセッション数。
	Closed int `json:"closed"`
}

// group はユーザー1人分の配信グループ。
type group struct {
	mu      sync.Mutex
	members map[SessionID]Sender
}

func (g *group) has(id SessionID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.members[id]
	return ok
}

func (g *group) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Registry はユーザーごとの配信グループを管理する。
//
// ロック順序は Registry.mu → group.mu。Broadcastは読み取りロックの下で
// グループを取得してからグループのロックを取るため、同一ユーザーへの
// Join/Leave/Broadcastは直列化される。
type Registry struct {
	mu sync.RWMutex
	// groups はユーザーIDから配信グループへの対応。空のグループは削除する。
	groups map[UserID]*group
	// sessions はセッションIDから所属ユーザーへの索引。
	sessions map[SessionID]UserID
	// closed はCloseAll後にtrueになり、以降のJoinを拒否する。
	closed bool
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{
		groups:   make(map[UserID]*group),
		sessions: make(map[SessionID]UserID),
	}
}

// Join はセッションをユーザーの配信グループに登録する。
// 同じセッションIDが既にいずれかのグループに登録済みの場合は ErrAlreadyJoined を返し、状態は変えない。
// CloseAll後は ErrShuttingDown を返す。
func (r *Registry) Join(userID UserID, sessionID SessionID, sender Sender) error {
	if userID == "" || sessionID == "" || sender == nil {
		return fmt.Errorf("%w: user_id と session_id と sender は必須です", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrShuttingDown
	}

	if _, ok := r.sessions[sessionID]; ok {
		return ErrAlreadyJoined
	}

	g, ok := r.groups[userID]
	if !ok {
		g = &group{members: make(map[SessionID]Sender)}
		r.groups[userID] = g
	}

	g.mu.Lock()
	g.members[sessionID] = sender
	g.mu.Unlock()

	r.sessions[sessionID] = userID
	return nil
}

// Leave はセッションを配信グループから外す。
// 未登録のセッションや別ユーザーに登録されたセッションの場合は何もしない。
func (r *Registry) Leave(userID UserID, sessionID SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.sessions[sessionID]; !ok || owner != userID {
		return
	}
	delete(r.sessions, sessionID)

	g, ok := r.groups[userID]
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.members, sessionID)
	empty := len(g.members) == 0
	g.mu.Unlock()

	if empty {
		delete(r.groups, userID)
	}
}

// Broadcast はユーザーの配信グループ内の全セッションへペイロードを配信する。
// 配信に失敗したセッションは戻る前にグループから外す。送信キューが溢れたセッションには
// Drop(ErrDeliveryDropped) を通知し、既に終了処理中のセッションはClosedとして数えるだけにする。
func (r *Registry) Broadcast(userID UserID, p Payload) BroadcastResult {
	var (
		result  BroadcastResult
		failed  map[SessionID]Sender
		overrun []Sender
	)

	r.mu.RLock()
	g, ok := r.groups[userID]
	if !ok {
		r.mu.RUnlock()
		return result
	}

	g.mu.Lock()
	for id, sender := range g.members {
		if err := sender.Deliver(p); err != nil {
			if failed == nil {
				failed = make(map[SessionID]Sender)
			}
			failed[id] = sender
			delete(g.members, id)
			if errors.Is(err, ErrSessionClosed) {
				result.Closed++
			} else {
				overrun = append(overrun, sender)
			}
			continue
		}
		result.Delivered++
	}
	g.mu.Unlock()
	r.mu.RUnlock()

	if len(failed) == 0 {
		return result
	}
	result.Dropped = len(overrun)

	r.mu.Lock()
	cur := r.groups[userID]
	for id := range failed {
		if r.sessions[id] != userID {
			continue
		}
		// ロックを外している間に同じIDで再参加していれば索引を残す
		if cur != nil && cur.has(id) {
			continue
		}
		delete(r.sessions, id)
	}
	if cur != nil && cur == g && g.size() == 0 {
		delete(r.groups, userID)
	}
	r.mu.Unlock()

	for _, sender := range overrun {
		sender.Drop(ErrDeliveryDropped)
	}
	return result
}

// Count はユーザーの配信グループに登録されたセッション数を返す。
func (r *Registry) Count(userID UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[userID]
	if !ok {
		return 0
	}
	return g.size()
}

// Users はセッションを1つ以上持つユーザー数を返す。
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// CloseAll は全セッションを登録解除し、reasonを付けてDropを通知する。
// サーバー停止時に使う。以降のJoinは ErrShuttingDown で失敗する。
func (r *Registry) CloseAll(reason error) int {
	r.mu.Lock()
	r.closed = true
	var senders []Sender
	for _, g := range r.groups {
		g.mu.Lock()
		for _, sender := range g.members {
			senders = append(senders, sender)
		}
		g.mu.Unlock()
	}
	r.groups = make(map[UserID]*group)
	r.sessions = make(map[SessionID]UserID)
	r.mu.Unlock()

	for _, sender := range senders {
		sender.Drop(reason)
	}
	return len(senders)
}
