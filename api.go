package listsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// request/response collaborator around the realtime core: list CRUD,
// section listing, import-text parsing, deduplication. calls are
// asynchronous and resolve a callback with either a value or a failure.

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
	c := make(chan ApiCallbackResult[R], 1)
	callback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return callback, c
}

type ListsApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byToken string
}

func NewListsApi(apiUrl string) *ListsApi {
	return NewListsApiWithContext(context.Background(), apiUrl)
}

func NewListsApiWithContext(ctx context.Context, apiUrl string) *ListsApi {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ListsApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// attached to every call
func (self *ListsApi) SetByToken(byToken string) {
	self.byToken = byToken
}

func (self *ListsApi) Close() {
	self.cancel()
}

type ListRecord struct {
	ListId    Id     `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
	Archived  bool   `json:"archived"`
	Order     int    `json:"order,omitempty"`
}

type GetListsCallback apiCallback[*GetListsResult]

type GetListsResult struct {
	Lists []*ListRecord `json:"lists"`
}

func (self *ListsApi) GetLists(callback GetListsCallback) {
	go request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/lists/", self.apiUrl),
		nil,
		self.byToken,
		&GetListsResult{},
		callback,
	)
}

type CreateListCallback apiCallback[*ListRecord]

type CreateListArgs struct {
	Name string `json:"name"`
}

func (self *ListsApi) CreateList(createList *CreateListArgs, callback CreateListCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/lists/", self.apiUrl),
		createList,
		self.byToken,
		&ListRecord{},
		callback,
	)
}

type GetListCallback apiCallback[*ListDetailResult]

type ListDetailResult struct {
	ListRecord
	Items    []*Item    `json:"items"`
	Sections []*Section `json:"sections"`
}

func (self *ListsApi) GetList(listId Id, callback GetListCallback) {
	go request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/lists/%s/", self.apiUrl, listId),
		nil,
		self.byToken,
		&ListDetailResult{},
		callback,
	)
}

type PatchListCallback apiCallback[*ListRecord]

// only provided fields are applied. archive and restore are both
// `archived` patches.
type PatchListArgs struct {
	Name     *string `json:"name,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

func (self *ListsApi) PatchList(listId Id, patchList *PatchListArgs, callback PatchListCallback) {
	go request(
		self.ctx,
		"PATCH",
		fmt.Sprintf("%s/lists/%s/", self.apiUrl, listId),
		patchList,
		self.byToken,
		&ListRecord{},
		callback,
	)
}

type DeleteListCallback apiCallback[*DeleteListResult]

type DeleteListResult struct{}

func (self *ListsApi) DeleteList(listId Id, callback DeleteListCallback) {
	go request(
		self.ctx,
		"DELETE",
		fmt.Sprintf("%s/lists/%s/", self.apiUrl, listId),
		nil,
		self.byToken,
		&DeleteListResult{},
		callback,
	)
}

type GetSectionsCallback apiCallback[*GetSectionsResult]

type GetSectionsResult struct {
	Sections []*Section `json:"sections"`
}

func (self *ListsApi) GetSections(callback GetSectionsCallback) {
	go request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/sections/", self.apiUrl),
		nil,
		self.byToken,
		&GetSectionsResult{},
		callback,
	)
}

type ParseImportCallback apiCallback[*ParseImportResult]

type ParseImportArgs struct {
	Text string `json:"text"`
}

type ParseImportResult struct {
	Items []*ImportItem `json:"items"`
}

// ParseImport asks the server to parse free-form text into items.
// callers fall back to ParseImportLines when this fails.
func (self *ListsApi) ParseImport(listId Id, parseImport *ParseImportArgs, callback ParseImportCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/lists/%s/parse-import/", self.apiUrl, listId),
		parseImport,
		self.byToken,
		&ParseImportResult{},
		callback,
	)
}

type DeduplicateCallback apiCallback[*ListDetailResult]

func (self *ListsApi) Deduplicate(listId Id, callback DeduplicateCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/lists/%s/deduplicate/", self.apiUrl, listId),
		nil,
		self.byToken,
		&ListDetailResult{},
		callback,
	)
}

func request[R any](ctx context.Context, method string, url string, args any, byToken string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args != nil {
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

	if byToken != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", byToken))
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

	switch r.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	default:
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	if 0 < len(responseBodyBytes) {
		if err := json.Unmarshal(responseBodyBytes, &result); err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	callback.Result(result, nil)
	return result, nil
}
