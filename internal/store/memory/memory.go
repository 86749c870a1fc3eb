// Package memory is an in-process implementation of store.Store. A single mutex
// serializes every operation, which makes each one atomic and linearizable.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/store"
)

type pairKey [2]uuid.UUID

// Store keeps all rows in maps guarded by one mutex.
type Store struct {
	mu   sync.Mutex
	sink store.ChangeSink

	sessions     map[uuid.UUID]*models.Session
	questions    map[uuid.UUID]*models.Question
	participants map[uuid.UUID]*models.Participant
	answers      map[uuid.UUID]*models.Answer
	answerOrder  []uuid.UUID

	participantByStudent map[pairKey]uuid.UUID
	answerByParticipant  map[pairKey]uuid.UUID
	enrollments          map[pairKey]struct{}

	fault func(op string) error
}

var _ store.Store = (*Store)(nil)

// New creates an empty store. sink may be nil.
func New(sink store.ChangeSink) *Store {
	return &Store{
		sink:                 sink,
		sessions:             make(map[uuid.UUID]*models.Session),
		questions:            make(map[uuid.UUID]*models.Question),
		participants:         make(map[uuid.UUID]*models.Participant),
		answers:              make(map[uuid.UUID]*models.Answer),
		participantByStudent: make(map[pairKey]uuid.UUID),
		answerByParticipant:  make(map[pairKey]uuid.UUID),
		enrollments:          make(map[pairKey]struct{}),
	}
}

// SetSink replaces the change sink.
func (s *Store) SetSink(sink store.ChangeSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// SetFault installs a hook consulted before every operation; a non-nil error fails the
// operation without touching state. Used to simulate an unreachable store.
func (s *Store) SetFault(fn func(op string) error) {
	s.mu.Lock()
	s.fault = fn
	s.mu.Unlock()
}

// Enroll registers students in a class.
func (s *Store) Enroll(classID uuid.UUID, studentIDs ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range studentIDs {
		s.enrollments[pairKey{classID, id}] = struct{}{}
	}
}

// begin locks the store and checks the fault hook and the context.
func (s *Store) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.fault != nil {
		if err := s.fault(op); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

// commit unlocks and delivers changes outside the lock.
func (s *Store) commit(ctx context.Context, changes ...store.Change) {
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}
	for _, c := range changes {
		sink.Emit(ctx, c)
	}
}

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if err := s.begin(ctx, "CreateSession"); err != nil {
		return err
	}
	for _, other := range s.sessions {
		if other.Status != models.SessionEnded && other.JoinCode == sess.JoinCode {
			s.mu.Unlock()
			return store.ErrConflict
		}
	}
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if _, ok := s.sessions[sess.ID]; ok {
		s.mu.Unlock()
		return store.ErrConflict
	}
	row := cloneSession(sess)
	s.sessions[sess.ID] = row
	s.commit(ctx, sessionChange(store.OpInsert, row))
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if err := s.begin(ctx, "GetSession"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	row, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(row), nil
}

func (s *Store) GetActiveSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	if err := s.begin(ctx, "GetActiveSessionByCode"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	for _, row := range s.sessions {
		if row.JoinCode == code && row.Status == models.SessionActive {
			return cloneSession(row), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateSlide(ctx context.Context, id uuid.UUID, index int) (*models.Session, error) {
	if err := s.begin(ctx, "UpdateSlide"); err != nil {
		return nil, err
	}
	row, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if row.Status == models.SessionEnded {
		s.mu.Unlock()
		return nil, store.ErrSessionEnded
	}
	row.CurrentSlideIndex = index
	out := cloneSession(row)
	s.commit(ctx, sessionChange(store.OpUpdate, out))
	return cloneSession(out), nil
}

func (s *Store) EndSession(ctx context.Context, id uuid.UUID, at time.Time) (*store.EndResult, error) {
	if err := s.begin(ctx, "EndSession"); err != nil {
		return nil, err
	}
	row, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if row.Status == models.SessionEnded {
		s.mu.Unlock()
		return nil, store.ErrSessionEnded
	}
	row.Status = models.SessionEnded
	endedAt := at
	row.EndedAt = &endedAt

	res := &store.EndResult{Session: cloneSession(row)}
	changes := []store.Change{sessionChange(store.OpUpdate, cloneSession(row))}

	if q := s.activeQuestionLocked(id); q != nil {
		closeLocked(q, at)
		res.Closed = cloneQuestion(q)
		changes = append(changes, questionChange(store.OpUpdate, cloneQuestion(q)))
	}
	for _, p := range s.participantsLocked(id) {
		if p.TotalQuestionsAnswered > 0 && p.CreditAwarded != row.CreditForParticipation {
			p.CreditAwarded = row.CreditForParticipation
			changes = append(changes, participantChange(store.OpUpdate, cloneParticipant(p)))
		}
		res.Participants = append(res.Participants, *cloneParticipant(p))
	}
	s.commit(ctx, changes...)
	return res, nil
}

func (s *Store) PushQuestion(ctx context.Context, q *models.Question) (*store.PushResult, error) {
	if err := s.begin(ctx, "PushQuestion"); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[q.SessionID]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if sess.Status == models.SessionEnded {
		s.mu.Unlock()
		return nil, store.ErrSessionEnded
	}
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if _, exists := s.questions[q.ID]; exists {
		s.mu.Unlock()
		return nil, store.ErrConflict
	}

	res := &store.PushResult{}
	var changes []store.Change
	now := time.Now()
	if q.ActivatedAt != nil {
		now = *q.ActivatedAt
	}
	if prev := s.activeQuestionLocked(q.SessionID); prev != nil {
		closeLocked(prev, now)
		res.Closed = cloneQuestion(prev)
		changes = append(changes, questionChange(store.OpUpdate, cloneQuestion(prev)))
	}
	row := cloneQuestion(q)
	row.IsActive = true
	row.ActivatedAt = &now
	row.ClosedAt = nil
	s.questions[row.ID] = row
	res.Question = cloneQuestion(row)
	changes = append(changes, questionChange(store.OpInsert, cloneQuestion(row)))
	s.commit(ctx, changes...)
	return res, nil
}

func (s *Store) CloseQuestion(ctx context.Context, id uuid.UUID, at time.Time) (*models.Question, error) {
	if err := s.begin(ctx, "CloseQuestion"); err != nil {
		return nil, err
	}
	row, ok := s.questions[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if !row.IsActive {
		out := cloneQuestion(row)
		s.mu.Unlock()
		return out, nil
	}
	closeLocked(row, at)
	out := cloneQuestion(row)
	s.commit(ctx, questionChange(store.OpUpdate, out))
	return cloneQuestion(out), nil
}

func (s *Store) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	if err := s.begin(ctx, "GetQuestion"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	row, ok := s.questions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneQuestion(row), nil
}

func (s *Store) GetActiveQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error) {
	if err := s.begin(ctx, "GetActiveQuestion"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if q := s.activeQuestionLocked(sessionID); q != nil {
		return cloneQuestion(q), nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListQuestions(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error) {
	if err := s.begin(ctx, "ListQuestions"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var list []models.Question
	for _, q := range s.questions {
		if q.SessionID == sessionID {
			list = append(list, *cloneQuestion(q))
		}
	}
	sortQuestions(list)
	return list, nil
}

func (s *Store) ListActiveTimedQuestions(ctx context.Context) ([]models.Question, error) {
	if err := s.begin(ctx, "ListActiveTimedQuestions"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var list []models.Question
	for _, q := range s.questions {
		if q.IsActive && q.TimeLimitSeconds != nil {
			list = append(list, *cloneQuestion(q))
		}
	}
	sortQuestions(list)
	return list, nil
}

func (s *Store) IsEnrolled(ctx context.Context, classID, studentID uuid.UUID) (bool, error) {
	if err := s.begin(ctx, "IsEnrolled"); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	_, ok := s.enrollments[pairKey{classID, studentID}]
	return ok, nil
}

func (s *Store) UpsertParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error) {
	if err := s.begin(ctx, "UpsertParticipant"); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[p.SessionID]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if sess.Status != models.SessionActive {
		s.mu.Unlock()
		return nil, store.ErrSessionEnded
	}
	key := pairKey{p.SessionID, p.StudentID}
	if id, ok := s.participantByStudent[key]; ok {
		row := s.participants[id]
		row.LastActiveAt = p.LastActiveAt
		row.Status = models.ParticipantActive
		if p.PartnerStudentID != nil {
			partner := *p.PartnerStudentID
			row.PartnerStudentID = &partner
		}
		out := cloneParticipant(row)
		s.commit(ctx, participantChange(store.OpUpdate, out))
		return cloneParticipant(out), nil
	}
	row := cloneParticipant(p)
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.Status = models.ParticipantActive
	row.TotalQuestionsAnswered = 0
	row.CorrectAnswers = 0
	row.CreditAwarded = 0
	s.participants[row.ID] = row
	s.participantByStudent[key] = row.ID
	out := cloneParticipant(row)
	s.commit(ctx, participantChange(store.OpInsert, out))
	return cloneParticipant(out), nil
}

func (s *Store) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	if err := s.begin(ctx, "GetParticipant"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	row, ok := s.participants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneParticipant(row), nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	if err := s.begin(ctx, "ListParticipants"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var list []models.Participant
	for _, p := range s.participantsLocked(sessionID) {
		list = append(list, *cloneParticipant(p))
	}
	return list, nil
}

func (s *Store) SetParticipantStatus(ctx context.Context, id uuid.UUID, status, onlyFrom models.ParticipantStatus, at time.Time) (*models.Participant, error) {
	if err := s.begin(ctx, "SetParticipantStatus"); err != nil {
		return nil, err
	}
	row, ok := s.participants[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if (onlyFrom != "" && row.Status != onlyFrom) || row.Status == status {
		out := cloneParticipant(row)
		s.mu.Unlock()
		return out, nil
	}
	row.Status = status
	row.LastActiveAt = at
	out := cloneParticipant(row)
	s.commit(ctx, participantChange(store.OpUpdate, out))
	return cloneParticipant(out), nil
}

func (s *Store) InsertAnswer(ctx context.Context, a *models.Answer) (*store.AnswerResult, error) {
	if err := s.begin(ctx, "InsertAnswer"); err != nil {
		return nil, err
	}
	q, ok := s.questions[a.QuestionID]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	p, ok := s.participants[a.ParticipantID]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if !q.IsActive {
		s.mu.Unlock()
		return nil, store.ErrQuestionNotActive
	}
	if p.Status == models.ParticipantLeft {
		s.mu.Unlock()
		return nil, store.ErrParticipantLeft
	}
	key := pairKey{a.QuestionID, a.ParticipantID}
	if _, dup := s.answerByParticipant[key]; dup {
		s.mu.Unlock()
		return nil, store.ErrConflict
	}
	row := cloneAnswer(a)
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	s.answers[row.ID] = row
	s.answerByParticipant[key] = row.ID
	s.answerOrder = append(s.answerOrder, row.ID)

	p.TotalQuestionsAnswered++
	if row.IsCorrect != nil && *row.IsCorrect {
		p.CorrectAnswers++
	}
	p.LastActiveAt = row.AnsweredAt

	res := &store.AnswerResult{Answer: cloneAnswer(row), Participant: cloneParticipant(p)}
	s.commit(ctx,
		store.Change{Table: store.TableAnswers, Op: store.OpInsert, SessionID: q.SessionID, RowID: row.ID, Row: cloneAnswer(row), At: row.AnsweredAt},
		participantChange(store.OpUpdate, cloneParticipant(p)),
	)
	return res, nil
}

func (s *Store) GetAnswer(ctx context.Context, questionID, participantID uuid.UUID) (*models.Answer, error) {
	if err := s.begin(ctx, "GetAnswer"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	id, ok := s.answerByParticipant[pairKey{questionID, participantID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneAnswer(s.answers[id]), nil
}

func (s *Store) ListAnswers(ctx context.Context, questionID uuid.UUID) ([]models.Answer, error) {
	if err := s.begin(ctx, "ListAnswers"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var list []models.Answer
	for _, id := range s.answerOrder {
		if a := s.answers[id]; a.QuestionID == questionID {
			list = append(list, *cloneAnswer(a))
		}
	}
	return list, nil
}

func (s *Store) ListSessionAnswers(ctx context.Context, sessionID uuid.UUID) ([]models.Answer, error) {
	if err := s.begin(ctx, "ListSessionAnswers"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var list []models.Answer
	for _, id := range s.answerOrder {
		a := s.answers[id]
		if q, ok := s.questions[a.QuestionID]; ok && q.SessionID == sessionID {
			list = append(list, *cloneAnswer(a))
		}
	}
	return list, nil
}

func (s *Store) activeQuestionLocked(sessionID uuid.UUID) *models.Question {
	for _, q := range s.questions {
		if q.SessionID == sessionID && q.IsActive {
			return q
		}
	}
	return nil
}

func (s *Store) participantsLocked(sessionID uuid.UUID) []*models.Participant {
	var list []*models.Participant
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].ID.String() < list[j].ID.String()
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list
}

func closeLocked(q *models.Question, at time.Time) {
	closedAt := at
	q.IsActive = false
	q.ClosedAt = &closedAt
}

func sortQuestions(list []models.Question) {
	sort.SliceStable(list, func(i, j int) bool {
		ai, aj := list[i].ActivatedAt, list[j].ActivatedAt
		if ai == nil || aj == nil {
			return aj != nil
		}
		return ai.Before(*aj)
	})
}
