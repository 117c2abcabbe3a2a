package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// a CRUD call that the platform rejected. surfaced to the initiating action
// only; the snapshot is never mutated on this path.
type MutationError struct {
	StatusCode int
	Message    string
}

func (self *MutationError) Error() string {
	return fmt.Sprintf("mutation rejected (%d): %s", self.StatusCode, self.Message)
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// typed client for the platform CRUD api. the engine only depends on the
// success/failure signal of mutations and on `GetDomainModelSync` for the
// authoritative reload.
type ModeladoApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewModeladoApi(apiUrl string) *ModeladoApi {
	return NewModeladoApiWithContext(context.Background(), apiUrl)
}

func NewModeladoApiWithContext(ctx context.Context, apiUrl string) *ModeladoApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &ModeladoApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *ModeladoApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

type AuthLoginCallback apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	AccessToken string      `json:"accessToken"`
	User        *UserResult `json:"user,omitempty"`
}

type UserResult struct {
	UserId Id     `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

func (self *ModeladoApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		callback,
	)
}

func (self *ModeladoApi) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

type GetDomainModelCallback apiCallback[*ModelSnapshot]

// the authoritative reload read. the result replaces the snapshot wholesale.
func (self *ModeladoApi) GetDomainModel(projectId Id, actorId Id, callback GetDomainModelCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain?actorId=%s", self.apiUrl, projectId, actorId),
		self.byJwt,
		&ModelSnapshot{},
		callback,
	)
}

func (self *ModeladoApi) GetDomainModelSync(projectId Id, actorId Id) (*ModelSnapshot, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain?actorId=%s", self.apiUrl, projectId, actorId),
		self.byJwt,
		&ModelSnapshot{},
		NewNoopApiCallback[*ModelSnapshot](),
	)
}

type CreateClassCallback apiCallback[*DomainClass]

type CreateClassArgs struct {
	ProjectId   Id      `json:"-"`
	ActorId     Id      `json:"actorId"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (self *ModeladoApi) CreateClassSync(createClass *CreateClassArgs) (*DomainClass, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain/classes", self.apiUrl, createClass.ProjectId),
		createClass,
		self.byJwt,
		&DomainClass{},
		NewNoopApiCallback[*DomainClass](),
	)
}

type UpdateClassArgs struct {
	ProjectId   Id      `json:"-"`
	ClassId     Id      `json:"-"`
	ActorId     Id      `json:"actorId"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description"`
}

func (self *ModeladoApi) UpdateClassSync(updateClass *UpdateClassArgs) (*DomainClass, error) {
	return patch(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain/classes/%s", self.apiUrl, updateClass.ProjectId, updateClass.ClassId),
		updateClass,
		self.byJwt,
		&DomainClass{},
		NewNoopApiCallback[*DomainClass](),
	)
}

type DeleteClassArgs struct {
	ProjectId Id `json:"-"`
	ClassId   Id `json:"-"`
	ActorId   Id `json:"actorId"`
}

func (self *ModeladoApi) DeleteClassSync(deleteClass *DeleteClassArgs) error {
	_, err := del(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain/classes/%s", self.apiUrl, deleteClass.ProjectId, deleteClass.ClassId),
		deleteClass,
		self.byJwt,
		&struct{}{},
		NewNoopApiCallback[*struct{}](),
	)
	return err
}

type CreateAttributeArgs struct {
	ProjectId Id                `json:"-"`
	ClassId   Id                `json:"-"`
	ActorId   Id                `json:"actorId"`
	Name      string            `json:"name"`
	Type      AttributeType     `json:"type"`
	Required  bool              `json:"required"`
	Config    *ConstraintConfig `json:"config"`
}

func (self *ModeladoApi) CreateAttributeSync(createAttribute *CreateAttributeArgs) (*DomainAttribute, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain/classes/%s/attributes", self.apiUrl, createAttribute.ProjectId, createAttribute.ClassId),
		createAttribute,
		self.byJwt,
		&DomainAttribute{},
		NewNoopApiCallback[*DomainAttribute](),
	)
}

type UpdateAttributeArgs struct {
	ProjectId   Id                `json:"-"`
	AttributeId Id                `json:"-"`
	ActorId     Id                `json:"actorId"`
	Name        *string           `json:"name,omitempty"`
	Type        *AttributeType    `json:"type,omitempty"`
	Required    *bool             `json:"required,omitempty"`
	Config      *ConstraintConfig `json:"config"`
}

func (self *ModeladoApi) UpdateAttributeSync(updateAttribute *UpdateAttributeArgs) (*DomainAttribute, error) {
	return patch(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain/attributes/%s", self.apiUrl, updateAttribute.ProjectId, updateAttribute.AttributeId),
		updateAttribute,
		self.byJwt,
		&DomainAttribute{},
		NewNoopApiCallback[*DomainAttribute](),
	)
}

type DeleteAttributeArgs struct {
	ProjectId   Id `json:"-"`
	AttributeId Id `json:"-"`
	ActorId     Id `json:"actorId"`
}

func (self *ModeladoApi) DeleteAttributeSync(deleteAttribute *DeleteAttributeArgs) error {
	_, err := del(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain/attributes/%s", self.apiUrl, deleteAttribute.ProjectId, deleteAttribute.AttributeId),
		deleteAttribute,
		self.byJwt,
		&struct{}{},
		NewNoopApiCallback[*struct{}](),
	)
	return err
}

type CreateRelationArgs struct {
	ProjectId          Id           `json:"-"`
	ActorId            Id           `json:"actorId"`
	SourceClassId      Id           `json:"sourceClassId"`
	TargetClassId      Id           `json:"targetClassId"`
	Name               *string      `json:"name"`
	SourceRole         *string      `json:"sourceRole"`
	TargetRole         *string      `json:"targetRole"`
	SourceMultiplicity Multiplicity `json:"sourceMultiplicity"`
	TargetMultiplicity Multiplicity `json:"targetMultiplicity"`
	Kind               RelationKind `json:"type"`
}

func (self *ModeladoApi) CreateRelationSync(createRelation *CreateRelationArgs) (*DomainRelation, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain/relations", self.apiUrl, createRelation.ProjectId),
		createRelation,
		self.byJwt,
		&DomainRelation{},
		NewNoopApiCallback[*DomainRelation](),
	)
}

type UpdateRelationArgs struct {
	ProjectId          Id            `json:"-"`
	RelationId         Id            `json:"-"`
	ActorId            Id            `json:"actorId"`
	Name               *string       `json:"name"`
	SourceRole         *string       `json:"sourceRole"`
	TargetRole         *string       `json:"targetRole"`
	SourceMultiplicity *Multiplicity `json:"sourceMultiplicity,omitempty"`
	TargetMultiplicity *Multiplicity `json:"targetMultiplicity,omitempty"`
	Kind               *RelationKind `json:"type,omitempty"`
}

func (self *ModeladoApi) UpdateRelationSync(updateRelation *UpdateRelationArgs) (*DomainRelation, error) {
	return patch(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain/relations/%s", self.apiUrl, updateRelation.ProjectId, updateRelation.RelationId),
		updateRelation,
		self.byJwt,
		&DomainRelation{},
		NewNoopApiCallback[*DomainRelation](),
	)
}

type DeleteRelationArgs struct {
	ProjectId  Id `json:"-"`
	RelationId Id `json:"-"`
	ActorId    Id `json:"actorId"`
}

func (self *ModeladoApi) DeleteRelationSync(deleteRelation *DeleteRelationArgs) error {
	_, err := del(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain/relations/%s", self.apiUrl, deleteRelation.ProjectId, deleteRelation.RelationId),
		deleteRelation,
		self.byJwt,
		&struct{}{},
		NewNoopApiCallback[*struct{}](),
	)
	return err
}

type DefineIdentityArgs struct {
	ProjectId    Id      `json:"-"`
	ClassId      Id      `json:"-"`
	ActorId      Id      `json:"actorId"`
	Name         string  `json:"name"`
	Description  *string `json:"description"`
	AttributeIds []Id    `json:"attributeIds"`
	IdentityId   *Id     `json:"identityId,omitempty"`
}

func (self *ModeladoApi) DefineIdentitySync(defineIdentity *DefineIdentityArgs) (*DomainIdentity, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain/classes/%s/identities", self.apiUrl, defineIdentity.ProjectId, defineIdentity.ClassId),
		defineIdentity,
		self.byJwt,
		&DomainIdentity{},
		NewNoopApiCallback[*DomainIdentity](),
	)
}

type RemoveIdentityArgs struct {
	ProjectId  Id `json:"-"`
	IdentityId Id `json:"-"`
	ActorId    Id `json:"actorId"`
}

func (self *ModeladoApi) RemoveIdentitySync(removeIdentity *RemoveIdentityArgs) error {
	_, err := del(
		self.ctx,
		fmt.Sprintf("%s/projects/%s/domain/identities/%s", self.apiUrl, removeIdentity.ProjectId, removeIdentity.IdentityId),
		removeIdentity,
		self.byJwt,
		&struct{}{},
		NewNoopApiCallback[*struct{}](),
	)
	return err
}

type ProjectResult struct {
	ProjectId   Id      `json:"id"`
	OwnerId     Id      `json:"ownerId"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Archived    bool    `json:"archived"`
	Status      string  `json:"status"`
}

func (self *ModeladoApi) ListProjectsSync(ownerId Id) ([]*ProjectResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/projects?ownerId=%s", self.apiUrl, ownerId),
		self.byJwt,
		[]*ProjectResult{},
		NewNoopApiCallback[[]*ProjectResult](),
	)
}

type AcceptInvitationArgs struct {
	Token   string `json:"token"`
	ActorId Id     `json:"actorId"`
}

type AcceptInvitationResult struct {
	ProjectId Id     `json:"projectId"`
	Role      string `json:"role"`
}

func (self *ModeladoApi) AcceptInvitationSync(acceptInvitation *AcceptInvitationArgs) (*AcceptInvitationResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/invitations/accept", self.apiUrl),
		acceptInvitation,
		self.byJwt,
		&AcceptInvitationResult{},
		NewNoopApiCallback[*AcceptInvitationResult](),
	)
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	return request(ctx, "POST", url, args, byJwt, result, callback)
}

func patch[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	return request(ctx, "PATCH", url, args, byJwt, result, callback)
}

func del[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	return request(ctx, "DELETE", url, args, byJwt, result, callback)
}

func request[R any](ctx context.Context, method string, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		// the response body is the error message
		err = &MutationError{
			StatusCode: r.StatusCode,
			Message:    strings.TrimSpace(string(responseBodyBytes)),
		}
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	if len(responseBodyBytes) != 0 {
		err = json.Unmarshal(responseBodyBytes, &result)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	responseBodyBytes, err := io.ReadAll(r.Body)
	r.Body.Close()

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		err = &MutationError{
			StatusCode: r.StatusCode,
			Message:    strings.TrimSpace(string(responseBodyBytes)),
		}
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
