package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"clawkeeper/internal/models"
)

// MockStorage is an in-memory implementation of the Storage interface for
// testing. All mutations take the write lock, so the credit CAS and the
// host uniqueness race behave like their single-row postgres counterparts.
type MockStorage struct {
	mu sync.RWMutex

	organizations map[string]*models.Organization

	hosts          map[string]*models.Host // key: hostID
	hostByIdentity map[string]string       // orgID+"/"+hostname -> hostID

	scans  map[string]*models.Scan
	checks map[string][]*models.Check // scanID -> checks

	alertRules  map[string]*models.AlertRule
	alertEvents []*models.AlertEvent

	events []*models.Event

	insights map[string]*models.Insight

	settings map[string]*models.NotificationSettings

	apiKeys map[string]*models.APIKey

	// Error injection
	FailCreateScan   bool
	FailInsertChecks bool
	FailCreateHost   bool
	FailCreateEvent  bool
	FailCreateAlert  bool

	// ForceHostConflict makes the next CreateHost lose a simulated
	// uniqueness race: the competing row is inserted and ErrConflict
	// returned.
	ForceHostConflict bool
}

// NewMockStorage creates a new mock storage instance
func NewMockStorage() *MockStorage {
	return &MockStorage{
		organizations:  make(map[string]*models.Organization),
		hosts:          make(map[string]*models.Host),
		hostByIdentity: make(map[string]string),
		scans:          make(map[string]*models.Scan),
		checks:         make(map[string][]*models.Check),
		alertRules:     make(map[string]*models.AlertRule),
		insights:       make(map[string]*models.Insight),
		settings:       make(map[string]*models.NotificationSettings),
		apiKeys:        make(map[string]*models.APIKey),
	}
}

func hostIdentity(orgID, hostname string) string {
	return orgID + "/" + hostname
}

// --- Organizations ---

func (m *MockStorage) CreateOrganization(name, ownerEmail string, plan models.Plan) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limits := plan.Limits()
	balance := limits.CreditsMonthly
	if balance == models.Unlimited {
		balance = 0
	}

	org := &models.Organization{
		ID:                  uuid.New().String(),
		Name:                name,
		Plan:                plan,
		CreditsBalance:      balance,
		CreditsMonthlyCap:   limits.CreditsMonthly,
		CreditsLastRefillAt: time.Now().UTC(),
		OwnerEmail:          ownerEmail,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
	m.organizations[org.ID] = org

	copy := *org
	return &copy, nil
}

func (m *MockStorage) GetOrganizationByID(orgID string) (*models.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	org, ok := m.organizations[orgID]
	if !ok {
		return nil, ErrNotFound
	}

	copy := *org
	return &copy, nil
}

func (m *MockStorage) UpdateOrganizationPlan(orgID string, plan models.Plan, balance, cap int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, ok := m.organizations[orgID]
	if !ok {
		return ErrNotFound
	}

	org.Plan = plan
	org.CreditsBalance = balance
	org.CreditsMonthlyCap = cap
	org.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockStorage) RefillCredits(orgID string, balance, cap int, refillAt, prevRefillAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, ok := m.organizations[orgID]
	if !ok {
		return false, ErrNotFound
	}

	if !org.CreditsLastRefillAt.Equal(prevRefillAt) {
		return false, nil
	}

	org.CreditsBalance = balance
	org.CreditsMonthlyCap = cap
	org.CreditsLastRefillAt = refillAt
	org.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MockStorage) DeductCredit(orgID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	org, ok := m.organizations[orgID]
	if !ok {
		return 0, false, ErrNotFound
	}

	if org.CreditsBalance <= 0 {
		return 0, false, nil
	}

	org.CreditsBalance--
	org.UpdatedAt = time.Now().UTC()
	return org.CreditsBalance, true, nil
}

// SetOrganizationCredits directly adjusts credit state for test setup.
func (m *MockStorage) SetOrganizationCredits(orgID string, balance, cap int, lastRefillAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if org, ok := m.organizations[orgID]; ok {
		org.CreditsBalance = balance
		org.CreditsMonthlyCap = cap
		org.CreditsLastRefillAt = lastRefillAt
	}
}

// --- Hosts ---

func (m *MockStorage) CreateHost(host *models.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreateHost {
		return ErrNotFound
	}
	identity := hostIdentity(host.OrgID, host.Hostname)
	if m.ForceHostConflict {
		m.ForceHostConflict = false
		if _, exists := m.hostByIdentity[identity]; !exists {
			winner := *host
			winner.ID = uuid.New().String()
			winner.CreatedAt = time.Now().UTC()
			m.hosts[winner.ID] = &winner
			m.hostByIdentity[identity] = winner.ID
		}
		return ErrConflict
	}

	if _, exists := m.hostByIdentity[identity]; exists {
		return ErrConflict
	}

	if host.ID == "" {
		host.ID = uuid.New().String()
	}
	if host.CreatedAt.IsZero() {
		host.CreatedAt = time.Now().UTC()
	}

	copy := *host
	m.hosts[host.ID] = &copy
	m.hostByIdentity[identity] = host.ID
	return nil
}

func (m *MockStorage) GetHostByHostname(orgID, hostname string) (*models.Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hostID, ok := m.hostByIdentity[hostIdentity(orgID, hostname)]
	if !ok {
		return nil, ErrNotFound
	}

	copy := *m.hosts[hostID]
	return &copy, nil
}

func (m *MockStorage) GetHost(hostID, orgID string) (*models.Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	host, ok := m.hosts[hostID]
	if !ok || host.OrgID != orgID {
		return nil, ErrNotFound
	}

	copy := *host
	return &copy, nil
}

func (m *MockStorage) UpdateHostScanSummary(host *models.Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.hosts[host.ID]
	if !ok {
		return ErrNotFound
	}

	existing.Platform = host.Platform
	existing.OSVersion = host.OSVersion
	existing.AgentVersion = host.AgentVersion
	existing.LastGrade = host.LastGrade
	existing.LastScore = host.LastScore
	existing.LastScanAt = host.LastScanAt
	return nil
}

func (m *MockStorage) CountHosts(orgID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, host := range m.hosts {
		if host.OrgID == orgID {
			count++
		}
	}
	return count, nil
}

func (m *MockStorage) ListHosts(orgID string) ([]*models.Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hosts []*models.Host
	for _, host := range m.hosts {
		if host.OrgID == orgID {
			copy := *host
			hosts = append(hosts, &copy)
		}
	}

	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].LastScanAt.After(hosts[j].LastScanAt)
	})
	return hosts, nil
}

func (m *MockStorage) ListHostsLastScannedBefore(orgID string, cutoff time.Time) ([]*models.Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hosts []*models.Host
	for _, host := range m.hosts {
		if host.OrgID == orgID && host.LastScanAt.Before(cutoff) {
			copy := *host
			hosts = append(hosts, &copy)
		}
	}
	return hosts, nil
}

func (m *MockStorage) DeleteHost(hostID, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	host, ok := m.hosts[hostID]
	if !ok || host.OrgID != orgID {
		return ErrNotFound
	}

	delete(m.hostByIdentity, hostIdentity(host.OrgID, host.Hostname))
	delete(m.hosts, hostID)
	for scanID, scan := range m.scans {
		if scan.HostID == hostID {
			delete(m.scans, scanID)
			delete(m.checks, scanID)
		}
	}
	return nil
}

// --- Scans & checks ---

func (m *MockStorage) CreateScan(scan *models.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreateScan {
		return ErrNotFound
	}

	if scan.ID == "" {
		scan.ID = uuid.New().String()
	}
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = time.Now().UTC()
	}

	copy := *scan
	m.scans[scan.ID] = &copy
	return nil
}

func (m *MockStorage) InsertChecks(scanID string, checks []models.CheckPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailInsertChecks {
		return ErrNotFound
	}

	for _, check := range checks {
		m.checks[scanID] = append(m.checks[scanID], &models.Check{
			ID:        uuid.New().String(),
			ScanID:    scanID,
			Status:    check.Status,
			CheckName: check.CheckName,
			Detail:    check.Detail,
		})
	}
	return nil
}

func (m *MockStorage) GetPreviousScan(hostID, excludeScanID string) (*models.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var prev *models.Scan
	for _, scan := range m.scans {
		if scan.HostID != hostID || scan.ID == excludeScanID {
			continue
		}
		if prev == nil || scan.ScannedAt.After(prev.ScannedAt) {
			prev = scan
		}
	}

	if prev == nil {
		return nil, ErrNotFound
	}

	copy := *prev
	return &copy, nil
}

func (m *MockStorage) GetScanAsOf(hostID string, cutoff time.Time) (*models.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *models.Scan
	for _, scan := range m.scans {
		if scan.HostID != hostID || scan.ScannedAt.After(cutoff) {
			continue
		}
		if best == nil || scan.ScannedAt.After(best.ScannedAt) {
			best = scan
		}
	}

	if best == nil {
		return nil, ErrNotFound
	}

	copy := *best
	return &copy, nil
}

func (m *MockStorage) ListScans(hostID, orgID string, limit int) ([]*models.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scans []*models.Scan
	for _, scan := range m.scans {
		if scan.HostID == hostID && scan.OrgID == orgID {
			copy := *scan
			scans = append(scans, &copy)
		}
	}

	sort.Slice(scans, func(i, j int) bool {
		return scans[i].ScannedAt.After(scans[j].ScannedAt)
	})
	if limit > 0 && len(scans) > limit {
		scans = scans[:limit]
	}
	return scans, nil
}

func (m *MockStorage) GetChecks(scanID string) ([]*models.Check, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var checks []*models.Check
	for _, check := range m.checks[scanID] {
		copy := *check
		checks = append(checks, &copy)
	}
	return checks, nil
}

// --- Alert rules & events ---

func (m *MockStorage) CreateAlertRule(rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	copy := *rule
	m.alertRules[rule.ID] = &copy
	return nil
}

func (m *MockStorage) UpdateAlertRule(rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.alertRules[rule.ID]
	if !ok || existing.OrgID != rule.OrgID {
		return ErrNotFound
	}

	existing.Name = rule.Name
	existing.RuleType = rule.RuleType
	existing.Config = rule.Config
	existing.Enabled = rule.Enabled
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockStorage) DeleteAlertRule(ruleID, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.alertRules[ruleID]
	if !ok || rule.OrgID != orgID {
		return ErrNotFound
	}

	delete(m.alertRules, ruleID)
	return nil
}

func (m *MockStorage) listRules(orgID string, enabledOnly bool) []*models.AlertRule {
	var rules []*models.AlertRule
	for _, rule := range m.alertRules {
		if rule.OrgID != orgID {
			continue
		}
		if enabledOnly && !rule.Enabled {
			continue
		}
		copy := *rule
		rules = append(rules, &copy)
	}

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules
}

func (m *MockStorage) ListAlertRules(orgID string) ([]*models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRules(orgID, false), nil
}

func (m *MockStorage) ListEnabledAlertRules(orgID string) ([]*models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRules(orgID, true), nil
}

func (m *MockStorage) CreateAlertEvent(event *models.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreateAlert {
		return ErrNotFound
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.NotifiedAt.IsZero() {
		event.NotifiedAt = time.Now().UTC()
	}

	copy := *event
	m.alertEvents = append(m.alertEvents, &copy)
	return nil
}

func (m *MockStorage) CountAlertEventsSince(ruleID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, event := range m.alertEvents {
		if event.RuleID == ruleID && !event.NotifiedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MockStorage) ListAlertEvents(orgID string, limit int) ([]*models.AlertEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*models.AlertEvent
	for _, event := range m.alertEvents {
		if event.OrgID == orgID {
			copy := *event
			events = append(events, &copy)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].NotifiedAt.After(events[j].NotifiedAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// --- Audit events ---

func (m *MockStorage) CreateEvent(event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreateEvent {
		return ErrNotFound
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	copy := *event
	m.events = append(m.events, &copy)
	return nil
}

func (m *MockStorage) ListEvents(orgID, eventType string, limit int) ([]*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*models.Event
	for _, event := range m.events {
		if event.OrgID != orgID {
			continue
		}
		if eventType != "" && event.EventType != eventType {
			continue
		}
		copy := *event
		events = append(events, &copy)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// EventsOfType returns all stored events of one type, for test assertions.
func (m *MockStorage) EventsOfType(orgID, eventType string) []*models.Event {
	events, _ := m.ListEvents(orgID, eventType, 0)
	return events
}

// --- Insights ---

func (m *MockStorage) FindOpenInsight(orgID, insightType, checkName string) (*models.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, insight := range m.insights {
		if insight.OrgID == orgID && insight.InsightType == insightType &&
			insight.CheckName == checkName && !insight.IsResolved {
			copy := *insight
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStorage) CreateInsight(insight *models.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if insight.ID == "" {
		insight.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if insight.CreatedAt.IsZero() {
		insight.CreatedAt = now
	}
	insight.UpdatedAt = now

	copy := *insight
	m.insights[insight.ID] = &copy
	return nil
}

func (m *MockStorage) UpdateInsight(insight *models.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.insights[insight.ID]; !ok {
		return ErrNotFound
	}

	insight.UpdatedAt = time.Now().UTC()
	copy := *insight
	m.insights[insight.ID] = &copy
	return nil
}

func (m *MockStorage) ListOpenInsights(orgID string) ([]*models.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var insights []*models.Insight
	for _, insight := range m.insights {
		if insight.OrgID == orgID && !insight.IsResolved {
			copy := *insight
			insights = append(insights, &copy)
		}
	}
	return insights, nil
}

func (m *MockStorage) ListInsights(orgID string, includeResolved bool, limit int) ([]*models.Insight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var insights []*models.Insight
	for _, insight := range m.insights {
		if insight.OrgID != orgID {
			continue
		}
		if !includeResolved && insight.IsResolved {
			continue
		}
		copy := *insight
		insights = append(insights, &copy)
	}

	sort.Slice(insights, func(i, j int) bool {
		return insights[i].UpdatedAt.After(insights[j].UpdatedAt)
	})
	if limit > 0 && len(insights) > limit {
		insights = insights[:limit]
	}
	return insights, nil
}

func (m *MockStorage) CountInsightsSince(orgID, insightType string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, insight := range m.insights {
		if insight.OrgID == orgID && insight.InsightType == insightType && !insight.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// --- Notification settings ---

func (m *MockStorage) GetNotificationSettings(orgID string) (*models.NotificationSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	settings, ok := m.settings[orgID]
	if !ok {
		return nil, ErrNotFound
	}

	copy := *settings
	return &copy, nil
}

func (m *MockStorage) UpsertNotificationSettings(settings *models.NotificationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings.UpdatedAt = time.Now().UTC()
	copy := *settings
	m.settings[settings.OrgID] = &copy
	return nil
}

// --- API keys ---

func (m *MockStorage) CreateAPIKey(orgID, keyHash, keyPrefix, name string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := &models.APIKey{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Name:      name,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		CreatedAt: time.Now().UTC(),
	}
	m.apiKeys[key.ID] = key

	copy := *key
	return &copy, nil
}

func (m *MockStorage) GetAPIKeysByPrefix(keyPrefix string) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []*models.APIKey
	for _, key := range m.apiKeys {
		if key.KeyPrefix == keyPrefix {
			copy := *key
			keys = append(keys, &copy)
		}
	}
	return keys, nil
}

func (m *MockStorage) UpdateAPIKeyLastUsed(keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.apiKeys[keyID]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	key.LastUsedAt = &now
	return nil
}

// Close is a no-op for the mock
func (m *MockStorage) Close() error {
	return nil
}
