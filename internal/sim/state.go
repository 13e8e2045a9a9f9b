package sim

import (
	"errors"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

const tokenTTL = time.Hour

var (
	errNoGroup    = errors.New("sim: no such resource group")
	errNoPlan     = errors.New("sim: no such plan")
	errNoSite     = errors.New("sim: no such site")
	errNoFunction = errors.New("sim: no such function")
)

// vendorState is the in-memory resource tree behind the simulated API.
// Provisioning is time based: a resource created at t reaches Succeeded at
// t+readyDelay, so clients observe the Accepted window without the
// simulator running timers.
type vendorState struct {
	mu         sync.Mutex
	readyDelay time.Duration
	baseURL    func() string

	groups     map[string]*groupState
	operations map[string]*operationState
	tokens     map[string]time.Time
}

type groupState struct {
	location string
	plans    map[string]*planState
	sites    map[string]*siteState
}

type planState struct {
	location string
	readyAt  time.Time
}

type siteState struct {
	location  string
	planID    string
	readyAt   time.Time
	user      string
	pass      string
	functions map[string]int
	files     map[string][]byte
	syncs     int
	hub       *logHub
}

type operationState struct {
	group   string
	readyAt time.Time
	applied bool
}

// siteView is the read-side projection handlers render from.
type siteView struct {
	Location string
	State    string
	HostURL  string
	SCMURL   string
}

func newVendorState(readyDelay time.Duration, baseURL func() string) *vendorState {
	return &vendorState{
		readyDelay: readyDelay,
		baseURL:    baseURL,
		groups:     make(map[string]*groupState),
		operations: make(map[string]*operationState),
		tokens:     make(map[string]time.Time),
	}
}

func readyState(readyAt, now time.Time) string {
	if now.Before(readyAt) {
		return "Accepted"
	}
	return "Succeeded"
}

func (v *vendorState) issueToken() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	token := uuid.NewString()
	v.tokens[token] = time.Now().Add(tokenTTL)
	return token
}

func (v *vendorState) tokenValid(token string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	exp, ok := v.tokens[token]
	return ok && time.Now().Before(exp)
}

func (v *vendorState) putGroup(name, location string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if g, ok := v.groups[name]; ok {
		g.location = location
		return
	}
	v.groups[name] = &groupState{
		location: location,
		plans:    make(map[string]*planState),
		sites:    make(map[string]*siteState),
	}
}

func (v *vendorState) groupInfo(name string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	g, ok := v.groups[name]
	if !ok {
		return "", false
	}
	return g.location, true
}

// deleteGroup schedules an async delete and returns the operation id. The
// group stays visible until the operation completes.
func (v *vendorState) deleteGroup(name string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.groups[name]; !ok {
		return "", false
	}
	id := uuid.NewString()
	v.operations[id] = &operationState{group: name, readyAt: time.Now().Add(v.readyDelay)}
	return id, true
}

func (v *vendorState) operationStatus(id string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	op, ok := v.operations[id]
	if !ok {
		return "", false
	}
	if time.Now().Before(op.readyAt) {
		return "InProgress", true
	}
	if !op.applied {
		delete(v.groups, op.group)
		op.applied = true
	}
	return "Succeeded", true
}

// putPlan creates the plan or leaves an existing one untouched, so a re-PUT
// does not restart the provisioning clock.
func (v *vendorState) putPlan(group, plan, location string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	g, ok := v.groups[group]
	if !ok {
		return errNoGroup
	}
	if _, ok := g.plans[plan]; !ok {
		g.plans[plan] = &planState{location: location, readyAt: time.Now().Add(v.readyDelay)}
	}
	return nil
}

func (v *vendorState) planStatus(group, plan string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	g, ok := v.groups[group]
	if !ok {
		return "", errNoGroup
	}
	p, ok := g.plans[plan]
	if !ok {
		return "", errNoPlan
	}
	return readyState(p.readyAt, time.Now()), nil
}

func (v *vendorState) putSite(group, site, planID, location string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	g, ok := v.groups[group]
	if !ok {
		return errNoGroup
	}
	planName := path.Base(planID)
	if _, ok := g.plans[planName]; planID == "" || !ok {
		return errNoPlan
	}
	if existing, ok := g.sites[site]; ok {
		existing.planID = planID
		existing.location = location
		return nil
	}
	g.sites[site] = &siteState{
		location:  location,
		planID:    planID,
		readyAt:   time.Now().Add(v.readyDelay),
		user:      "$" + site,
		pass:      uuid.NewString(),
		functions: make(map[string]int),
		files:     make(map[string][]byte),
		hub:       newLogHub(),
	}
	return nil
}

func (v *vendorState) siteInfo(group, site string) (siteView, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	g, ok := v.groups[group]
	if !ok {
		return siteView{}, errNoGroup
	}
	st, ok := g.sites[site]
	if !ok {
		return siteView{}, errNoSite
	}
	base := v.baseURL()
	return siteView{
		Location: st.location,
		State:    readyState(st.readyAt, time.Now()),
		HostURL:  base + "/apps/" + site,
		SCMURL:   base + "/scm/" + site,
	}, nil
}

func (v *vendorState) putFunction(group, site, fn string, bindings int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	g, ok := v.groups[group]
	if !ok {
		return errNoGroup
	}
	st, ok := g.sites[site]
	if !ok {
		return errNoSite
	}
	st.functions[fn] = bindings
	return nil
}

func (v *vendorState) publishCreds(group, site string) (user, pass, scmURL string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	g, ok := v.groups[group]
	if !ok {
		return "", "", "", errNoGroup
	}
	st, ok := g.sites[site]
	if !ok {
		return "", "", "", errNoSite
	}
	return st.user, st.pass, v.baseURL() + "/scm/" + site, nil
}

// dataSite resolves a site by bare name for the data plane. Site names are
// unique across groups in practice, so a scan is fine. Caller must hold mu.
func (v *vendorState) dataSite(site string) (*siteState, bool) {
	for _, g := range v.groups {
		if st, ok := g.sites[site]; ok {
			return st, true
		}
	}
	return nil, false
}

func (v *vendorState) scmAuthValid(site, user, pass string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.dataSite(site)
	return ok && st.user == user && st.pass == pass
}

func (v *vendorState) storeFile(site, filePath string, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.dataSite(site)
	if !ok {
		return errNoSite
	}
	st.files[filePath] = data
	return nil
}

func (v *vendorState) markSync(site string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.dataSite(site)
	if !ok {
		return errNoSite
	}
	st.syncs++
	return nil
}

func (v *vendorState) siteHub(site string) (*logHub, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.dataSite(site)
	if !ok {
		return nil, errNoSite
	}
	return st.hub, nil
}

func (v *vendorState) invokable(site, fn string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.dataSite(site)
	if !ok {
		return errNoSite
	}
	if _, ok := st.functions[fn]; !ok {
		return errNoFunction
	}
	return nil
}

// test hooks

func (v *vendorState) fileCount(site string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.dataSite(site)
	if !ok {
		return 0
	}
	return len(st.files)
}

func (v *vendorState) syncCount(site string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.dataSite(site)
	if !ok {
		return 0
	}
	return st.syncs
}
