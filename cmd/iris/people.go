package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/chriskillpack/iris"
	"github.com/chriskillpack/iris/compare"
	"github.com/chriskillpack/iris/refstore"
	"github.com/schollz/progressbar/v3"
)

const responsibleUse = `The reference store holds descriptions of real people's faces. Only add
people who have agreed to it, only use it on your own photos, and remove
anyone who asks. Pass -acknowledge to confirm.`

var errNoStore = errors.New("no reference store configured")

func runPeople(ctx context.Context, ir *iris.Iris, args []string) error {
	if ir.Store == nil {
		return errNoStore
	}
	if len(args) == 0 {
		return fmt.Errorf("people: expected list, add, remove or import")
	}

	switch args[0] {
	case "list":
		return listPeople(ctx, ir.Store)
	case "add", "remove", "import":
	default:
		return fmt.Errorf("people: unknown command %q", args[0])
	}

	fs := flag.NewFlagSet("people "+args[0], flag.ExitOnError)
	ack := fs.Bool("acknowledge", false, "Confirm responsible use of the reference store")
	name := fs.String("name", "", "Person's name")
	image := fs.String("image", "", "Reference photo of the person (add)")
	notes := fs.String("notes", "", "Free-form notes (add)")
	dir := fs.String("dir", "", "Directory of reference photos named after each person (import)")
	consent := fs.Bool("consent", false, "Confirm that the people being added consented (add, import)")
	fs.Parse(args[1:])

	admin, err := ir.Store.Admin(*ack)
	if err != nil {
		fmt.Fprintln(os.Stderr, responsibleUse)
		return err
	}

	switch args[0] {
	case "add":
		p, err := admin.Add(ctx, refstore.NewPerson{Name: *name, ImagePath: *image, Notes: *notes, Consent: *consent})
		if err != nil {
			return err
		}
		fmt.Printf("Added %s\n\n%s\n", p.Name, p.FacialDescription)
	case "remove":
		removed, err := admin.Remove(ctx, *name)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%q is not in the reference store", *name)
		}
		fmt.Printf("Removed %s\n", *name)
	case "import":
		return importPeople(ctx, admin, *dir, *consent)
	}
	return nil
}

func listPeople(ctx context.Context, store *refstore.Store) error {
	people, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(people) == 0 {
		fmt.Println("The reference store is empty")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDED\tIMAGE\tNOTES")
	for _, p := range people {
		added := p.AddedDate
		if t, err := time.Parse(time.RFC3339, added); err == nil {
			added = t.Local().Format(time.DateOnly)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, added, p.ReferenceImage, p.Notes)
	}
	return tw.Flush()
}

func importPeople(ctx context.Context, admin *refstore.Admin, dir string, consent bool) error {
	if dir == "" {
		return fmt.Errorf("import: -dir is required")
	}
	paths, err := refstore.ImportCandidates(dir)
	if err != nil {
		return err
	}
	fmt.Printf("Found %d images in %s\n", len(paths), dir)

	bar := progressbar.NewOptions(
		len(paths),
		progressbar.OptionSetDescription("Describing reference photos"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)

	// The first SIGINT stops the import after the current photo.
	ictx, stop := context.WithCancel(ctx)
	defer stop()
	rep, err := admin.Import(ictx, dir, consent, func(name string, err error) {
		bar.Add(1)
		if lameduck.Load() {
			stop()
		}
	})
	bar.Finish()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("Added %d, skipped %d already present, %d failed\n", len(rep.Added), len(rep.Skipped), len(rep.Failed))
	for name, err := range rep.Failed {
		fmt.Printf("  %s: %s\n", name, err)
	}
	return nil
}

func runIdentify(ctx context.Context, ir *iris.Iris, args []string) error {
	fs := flag.NewFlagSet("identify", flag.ExitOnError)
	image := fs.String("image", "", "Photo to identify people in")
	fs.Parse(args)
	if *image == "" {
		return fmt.Errorf("identify: -image is required")
	}
	if ir.Store == nil {
		return errNoStore
	}

	people, err := ir.Store.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(people) == 0 {
		return fmt.Errorf("the reference store is empty, add people with: iris people add")
	}

	out, err := ir.Comparator.Identify(ctx, *image, people)
	if err != nil {
		return err
	}
	fmt.Printf("Compared against %d people\n\n%s\n", len(people), out)

	matches := compare.Parse(out)
	if len(matches) == 0 {
		return nil
	}
	fmt.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PERSON\tMATCH\tCONFIDENCE")
	for _, m := range matches {
		name := m.Name
		if name == "" {
			name = "Unknown"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Index, name, m.Confidence)
	}
	return tw.Flush()
}
