package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"courses.app/listsync"
)

const ListCtlVersion = "0.0.1"

const openTimeout = 15 * time.Second
const flushTimeout = 2 * time.Second

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `List control.

The default urls are:
    api_url: https://lists.courses.app/api
    ws_url: wss://lists.courses.app

Usage:
    listctl lists [--api_url=<api_url>] [--token=<token>]
    listctl create-list [--api_url=<api_url>] [--token=<token>] <name>
    listctl show [--api_url=<api_url>] [--token=<token>] <list_id>
    listctl add [--api_url=<api_url>] [--ws_url=<ws_url>] [--token=<token>] <list_id> <name>
        [--quantity=<quantity>]
        [--notes=<notes>]
        [--section=<section>]
    listctl check [--api_url=<api_url>] [--ws_url=<ws_url>] [--token=<token>] <list_id> <item_id>
    listctl delete [--api_url=<api_url>] [--ws_url=<ws_url>] [--token=<token>] <list_id> <item_id>
    listctl import [--api_url=<api_url>] [--ws_url=<ws_url>] [--token=<token>] <list_id>
    listctl rename [--api_url=<api_url>] [--token=<token>] <list_id> <name>
    listctl archive [--api_url=<api_url>] [--token=<token>] <list_id>
    listctl restore [--api_url=<api_url>] [--token=<token>] <list_id>
    listctl deduplicate [--api_url=<api_url>] [--token=<token>] <list_id>
    listctl delete-list [--api_url=<api_url>] [--token=<token>] <list_id>
    listctl whoami --token=<token>
    listctl watch [--api_url=<api_url>] [--ws_url=<ws_url>] [--token=<token>] <list_id>

Options:
    -h --help              Show this screen.
    --version              Show version.
    --api_url=<api_url>
    --ws_url=<ws_url>
    --token=<token>        Your access token.
    --quantity=<quantity>
    --notes=<notes>
    --section=<section>    Section name for the new item.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ListCtlVersion)
	if err != nil {
		panic(err)
	}

	if lists_, _ := opts.Bool("lists"); lists_ {
		lists(opts)
	} else if createList_, _ := opts.Bool("create-list"); createList_ {
		createList(opts)
	} else if show_, _ := opts.Bool("show"); show_ {
		show(opts)
	} else if add_, _ := opts.Bool("add"); add_ {
		add(opts)
	} else if check_, _ := opts.Bool("check"); check_ {
		check(opts)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deleteItem(opts)
	} else if import_, _ := opts.Bool("import"); import_ {
		importList(opts)
	} else if rename_, _ := opts.Bool("rename"); rename_ {
		name, _ := opts.String("<name>")
		patchList(opts, &listsync.PatchListArgs{Name: &name})
	} else if archive_, _ := opts.Bool("archive"); archive_ {
		archived := true
		patchList(opts, &listsync.PatchListArgs{Archived: &archived})
	} else if restore_, _ := opts.Bool("restore"); restore_ {
		archived := false
		patchList(opts, &listsync.PatchListArgs{Archived: &archived})
	} else if deduplicate_, _ := opts.Bool("deduplicate"); deduplicate_ {
		deduplicate(opts)
	} else if deleteList_, _ := opts.Bool("delete-list"); deleteList_ {
		deleteList(opts)
	} else if whoami_, _ := opts.Bool("whoami"); whoami_ {
		whoami(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrl_, err := opts.String("--api_url"); err == nil && apiUrl_ != "" {
		return apiUrl_
	}
	return "https://lists.courses.app/api"
}

func wsUrl(opts docopt.Opts) string {
	if wsUrl_, err := opts.String("--ws_url"); err == nil && wsUrl_ != "" {
		return wsUrl_
	}
	return "wss://lists.courses.app"
}

func token(opts docopt.Opts) string {
	if token_, err := opts.String("--token"); err == nil {
		return token_
	}
	return ""
}

func newApi(opts docopt.Opts) *listsync.ListsApi {
	api := listsync.NewListsApi(apiUrl(opts))
	api.SetByToken(token(opts))
	return api
}

func parseListId(opts docopt.Opts) (listsync.Id, bool) {
	listIdStr, _ := opts.String("<list_id>")
	listId, err := listsync.ParseId(listIdStr)
	if err != nil {
		Out.Printf("Invalid list_id (%s).\n", err)
		return listsync.Id{}, false
	}
	return listId, true
}

func lists(opts docopt.Opts) {
	api := newApi(opts)
	defer api.Close()

	callback, c := listsync.NewBlockingApiCallback[*listsync.GetListsResult]()
	api.GetLists(callback)
	result := <-c
	if result.Error != nil {
		Out.Printf("Could not load lists (%s).\n", result.Error)
		return
	}
	for _, list := range result.Result.Lists {
		state := ""
		if list.Archived {
			state = " (archived)"
		}
		Out.Printf("%s %s%s\n", list.ListId, list.Name, state)
	}
}

func createList(opts docopt.Opts) {
	name, _ := opts.String("<name>")

	api := newApi(opts)
	defer api.Close()

	callback, c := listsync.NewBlockingApiCallback[*listsync.ListRecord]()
	api.CreateList(&listsync.CreateListArgs{Name: name}, callback)
	result := <-c
	if result.Error != nil {
		Out.Printf("Could not create list (%s).\n", result.Error)
		return
	}
	Out.Printf("%s %s\n", result.Result.ListId, result.Result.Name)
}

func show(opts docopt.Opts) {
	listId, ok := parseListId(opts)
	if !ok {
		return
	}

	api := newApi(opts)
	defer api.Close()

	callback, c := listsync.NewBlockingApiCallback[*listsync.ListDetailResult]()
	api.GetList(listId, callback)
	result := <-c
	if result.Error != nil {
		Out.Printf("Could not load list (%s).\n", result.Error)
		return
	}

	Out.Printf("%s\n", result.Result.Name)
	printGrouped(listsync.ProjectGroups(result.Result.Items, result.Result.Sections))
}

func printGrouped(grouped *listsync.GroupedView) {
	for _, sectionName := range grouped.SectionNames {
		group := grouped.Group(sectionName)
		if sectionName == listsync.UnsectionedName && len(group) == 0 {
			continue
		}
		Out.Printf("%s:\n", sectionName)
		for _, item := range group {
			mark := " "
			if item.Checked {
				mark = "x"
			}
			line := fmt.Sprintf("  [%s] %s", mark, item.Name)
			if item.Quantity != "" {
				line += fmt.Sprintf(" (%s)", item.Quantity)
			}
			if item.Notes != "" {
				line += fmt.Sprintf("  %s", item.Notes)
			}
			Out.Printf("%s  %s\n", line, item.ItemId)
		}
	}
}

// openSession connects a realtime session to the list and blocks until
// the connection is up. the section list comes over the api, not the
// channel, so it is loaded here; without it every item would project
// into the unsectioned group.
func openSession(ctx context.Context, opts docopt.Opts, listId listsync.Id) (*listsync.ListSession, *listsync.ListChannel, error) {
	var auth *listsync.ChannelAuth
	if token_ := token(opts); token_ != "" {
		auth = &listsync.ChannelAuth{ByToken: token_}
	}

	channel := listsync.NewListChannelWithDefaults(ctx, wsUrl(opts), auth)
	session := listsync.NewListSessionForChannel(channel, listsync.DefaultListSessionSettings())

	api := newApi(opts)
	defer api.Close()
	callback, c := listsync.NewBlockingApiCallback[*listsync.ListDetailResult]()
	api.GetList(listId, callback)
	if result := <-c; result.Error == nil {
		session.SetSections(result.Result.Sections)
	} else {
		Err.Printf("Could not load sections (%s).\n", result.Error)
	}

	changes := make(chan struct{}, 32)
	removeCallback := session.AddChangeCallback(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer removeCallback()

	session.Open(listId)

	deadline := time.After(openTimeout)
	for !session.Connected() {
		select {
		case <-changes:
		case <-deadline:
			channel.Close()
			return nil, nil, fmt.Errorf("timeout connecting to list %s", listId)
		}
	}
	return session, channel, nil
}

func add(opts docopt.Opts) {
	listId, ok := parseListId(opts)
	if !ok {
		return
	}
	name, _ := opts.String("<name>")
	quantity, _ := opts.String("--quantity")
	notes, _ := opts.String("--notes")
	sectionName, _ := opts.String("--section")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, channel, err := openSession(cancelCtx, opts, listId)
	if err != nil {
		Out.Printf("%s\n", err)
		return
	}
	defer channel.Close()

	session.AddItem(name, quantity, notes, sectionName)
	time.Sleep(flushTimeout)
}

func check(opts docopt.Opts) {
	toggleOrDelete(opts, false)
}

func deleteItem(opts docopt.Opts) {
	toggleOrDelete(opts, true)
}

func toggleOrDelete(opts docopt.Opts, deleteIt bool) {
	listId, ok := parseListId(opts)
	if !ok {
		return
	}
	itemIdStr, _ := opts.String("<item_id>")
	itemId, err := listsync.ParseId(itemIdStr)
	if err != nil {
		Out.Printf("Invalid item_id (%s).\n", err)
		return
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, channel, err := openSession(cancelCtx, opts, listId)
	if err != nil {
		Out.Printf("%s\n", err)
		return
	}
	defer channel.Close()

	// the item arrives with the initial state shortly after connect
	deadline := time.Now().Add(openTimeout)
	for session.Item(itemId) == nil {
		if time.Now().After(deadline) {
			Out.Printf("Item %s not found in list %s.\n", itemId, listId)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	if deleteIt {
		session.DeleteItem(itemId)
	} else {
		session.ToggleItem(itemId)
	}
	time.Sleep(flushTimeout)
}

// importList reads free-form text from stdin, parses it into items via
// the server with a local fallback, and adds each item over the channel.
func importList(opts docopt.Opts) {
	listId, ok := parseListId(opts)
	if !ok {
		return
	}

	textBytes, err := io.ReadAll(os.Stdin)
	if err != nil {
		Out.Printf("Could not read stdin (%s).\n", err)
		return
	}
	text := string(textBytes)
	if strings.TrimSpace(text) == "" {
		return
	}

	api := newApi(opts)
	defer api.Close()

	var items []*listsync.ImportItem
	parseCallback, parseC := listsync.NewBlockingApiCallback[*listsync.ParseImportResult]()
	api.ParseImport(listId, &listsync.ParseImportArgs{Text: text}, parseCallback)
	parseResult := <-parseC
	if parseResult.Error == nil {
		items = parseResult.Result.Items
	} else {
		sectionsCallback, sectionsC := listsync.NewBlockingApiCallback[*listsync.GetSectionsResult]()
		api.GetSections(sectionsCallback)
		sectionsResult := <-sectionsC
		var sections []*listsync.Section
		if sectionsResult.Error == nil {
			sections = sectionsResult.Result.Sections
		}
		items = listsync.ParseImportLines(text, sections)
	}
	if len(items) == 0 {
		return
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, channel, err := openSession(cancelCtx, opts, listId)
	if err != nil {
		Out.Printf("%s\n", err)
		return
	}
	defer channel.Close()

	for _, item := range items {
		session.AddItem(item.Name, item.Quantity, item.Notes, item.Section)
	}
	Out.Printf("Added %d items.\n", len(items))
	time.Sleep(flushTimeout)
}

func patchList(opts docopt.Opts, args *listsync.PatchListArgs) {
	listId, ok := parseListId(opts)
	if !ok {
		return
	}

	api := newApi(opts)
	defer api.Close()

	callback, c := listsync.NewBlockingApiCallback[*listsync.ListRecord]()
	api.PatchList(listId, args, callback)
	result := <-c
	if result.Error != nil {
		Out.Printf("Could not update list (%s).\n", result.Error)
		return
	}
	state := ""
	if result.Result.Archived {
		state = " (archived)"
	}
	Out.Printf("%s %s%s\n", result.Result.ListId, result.Result.Name, state)
}

func deduplicate(opts docopt.Opts) {
	listId, ok := parseListId(opts)
	if !ok {
		return
	}

	api := newApi(opts)
	defer api.Close()

	callback, c := listsync.NewBlockingApiCallback[*listsync.ListDetailResult]()
	api.Deduplicate(listId, callback)
	result := <-c
	if result.Error != nil {
		Out.Printf("Could not deduplicate (%s).\n", result.Error)
		return
	}
	Out.Printf("%s now has %d items.\n", result.Result.Name, len(result.Result.Items))
}

func deleteList(opts docopt.Opts) {
	listId, ok := parseListId(opts)
	if !ok {
		return
	}

	api := newApi(opts)
	defer api.Close()

	callback, c := listsync.NewBlockingApiCallback[*listsync.DeleteListResult]()
	api.DeleteList(listId, callback)
	result := <-c
	if result.Error != nil {
		Out.Printf("Could not delete list (%s).\n", result.Error)
		return
	}
	Out.Printf("Deleted %s.\n", listId)
}

// whoami prints the claims probed from the token, unverified.
func whoami(opts docopt.Opts) {
	byToken, err := listsync.ParseByTokenUnverified(token(opts))
	if err != nil {
		Out.Printf("Could not parse token (%s).\n", err)
		return
	}
	if !byToken.TokenId.IsZero() {
		Out.Printf("token_id: %s\n", byToken.TokenId)
	}
	if !byToken.ClientId.IsZero() {
		Out.Printf("client_id: %s\n", byToken.ClientId)
	}
	if byToken.Label != "" {
		Out.Printf("label: %s\n", byToken.Label)
	}
}

// watch streams the grouped view, reprinted on every reconciled change.
func watch(opts docopt.Opts) {
	listId, ok := parseListId(opts)
	if !ok {
		return
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, channel, err := openSession(cancelCtx, opts, listId)
	if err != nil {
		Out.Printf("%s\n", err)
		return
	}
	defer channel.Close()

	changes := make(chan struct{}, 32)
	removeCallback := session.AddChangeCallback(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer removeCallback()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	printGrouped(session.GroupedView())
	for {
		select {
		case <-changes:
			if session.Connected() {
				Out.Printf("---\n")
			} else {
				Out.Printf("--- (reconnecting)\n")
			}
			printGrouped(session.GroupedView())
		case <-stop:
			session.Close()
			return
		}
	}
}
