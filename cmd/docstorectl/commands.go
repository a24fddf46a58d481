package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jacentio/docstore/store"
)

type opener func(cmd *cobra.Command) (*session, error)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}

type indexOutput struct {
	Name             string   `json:"name"`
	Local            bool     `json:"local"`
	PartitionKey     string   `json:"partitionKey"`
	SortKey          string   `json:"sortKey,omitempty"`
	Projection       string   `json:"projection"`
	NonKeyAttributes []string `json:"nonKeyAttributes,omitempty"`
}

type describeOutput struct {
	Table         string        `json:"table"`
	PartitionKey  string        `json:"partitionKey"`
	SortKey       string        `json:"sortKey,omitempty"`
	RevisionField string        `json:"revisionField"`
	Indexes       []indexOutput `json:"indexes"`
}

func newDescribeCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Show the table's key schema and secondary indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := open(cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			s := sess.store
			out := describeOutput{
				Table:         s.TableName(),
				PartitionKey:  s.Key().PartitionKey,
				SortKey:       s.Key().SortKey,
				RevisionField: s.RevisionField(),
				Indexes:       []indexOutput{},
			}
			for _, idx := range s.Indexes() {
				out.Indexes = append(out.Indexes, indexOutput{
					Name:             idx.Name,
					Local:            idx.Local,
					PartitionKey:     idx.Key.PartitionKey,
					SortKey:          idx.Key.SortKey,
					Projection:       string(idx.Projection),
					NonKeyAttributes: idx.NonKeyAttributes,
				})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

// queryFlags holds the flags shared by plan and query.
type queryFlags struct {
	filters    []string
	fields     []string
	orderBy    string
	descending bool
	limit      int
	offset     int
	token      string
}

func (f *queryFlags) register(cmd *cobra.Command, withToken bool) {
	fs := cmd.Flags()
	fs.StringArrayVarP(&f.filters, "filter", "f", nil, `filter as "field op value", repeatable (ops: = < > <= >= in not-in)`)
	fs.StringSliceVar(&f.fields, "fields", nil, "fields to return")
	fs.StringVar(&f.orderBy, "order-by", "", "field the results must be ordered by")
	fs.BoolVar(&f.descending, "desc", false, "order descending")
	fs.IntVar(&f.limit, "limit", 0, "maximum documents to return")
	fs.IntVar(&f.offset, "offset", 0, "documents to skip")
	if withToken {
		fs.StringVar(&f.token, "token", "", "pagination token from a previous query")
	}
}

func (f *queryFlags) query() (*store.Query, error) {
	q := &store.Query{
		FieldPaths:      f.fields,
		OrderByField:    f.orderBy,
		OrderAscending:  !f.descending,
		Limit:           f.limit,
		Offset:          f.offset,
		PaginationToken: f.token,
	}
	for _, s := range f.filters {
		flt, err := parseFilter(s)
		if err != nil {
			return nil, err
		}
		q.Filters = append(q.Filters, flt)
	}
	return q, nil
}

func newPlanCommand(open opener) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Explain which table, index or scan would serve a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := qf.query()
			if err != nil {
				return err
			}
			sess, err := open(cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			plan, err := sess.store.QueryPlan(q)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), plan)
			return err
		},
	}
	qf.register(cmd, false)
	return cmd
}

func newQueryCommand(open opener) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query and print matching documents as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := qf.query()
			if err != nil {
				return err
			}
			sess, err := open(cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			ctx := cmd.Context()
			it, err := sess.store.RunGetQuery(ctx, q, nil)
			if err != nil {
				return err
			}
			defer it.Stop()

			n := 0
			for {
				doc := store.NewDocument()
				err := it.Next(ctx, doc)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), doc.Map()); err != nil {
					return err
				}
				n++
			}
			token, err := it.PaginationToken()
			if err != nil {
				return err
			}
			sess.logger.Debug("query finished", zap.String("plan", it.Plan()), zap.Int("documents", n))
			if token != "" {
				_, err = fmt.Fprintf(cmd.ErrOrStderr(), "next page token: %s\n", token)
			}
			return err
		},
	}
	qf.register(cmd, true)
	return cmd
}

func newGetCommand(open opener) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "get <partition-key> [sort-key]",
		Short: "Print one document as JSON",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := open(cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			doc, err := keyDocument(sess.store.Key(), args)
			if err != nil {
				return err
			}
			if err := sess.store.Get(cmd.Context(), doc, fields...); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), doc.Map())
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to return")
	return cmd
}

func newPutCommand(open opener) *cobra.Command {
	var (
		data string
		mode string
	)
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Write a JSON document read from --data or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(data)
			if data == "" {
				var err error
				if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			doc, err := parseDocument(raw)
			if err != nil {
				return err
			}

			sess, err := open(cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			ctx := cmd.Context()
			switch mode {
			case "put":
				err = sess.store.Put(ctx, doc)
			case "create":
				err = sess.store.Create(ctx, doc)
			case "replace":
				err = sess.store.Replace(ctx, doc)
			default:
				return fmt.Errorf("unknown mode %q: expected put, create or replace", mode)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), doc.Map())
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "document as a JSON object")
	cmd.Flags().StringVar(&mode, "mode", "put", "write mode: put, create or replace")
	return cmd
}

func newDeleteCommand(open opener) *cobra.Command {
	var revision string
	cmd := &cobra.Command{
		Use:   "delete <partition-key> [sort-key]",
		Short: "Delete one document",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := open(cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			doc, err := keyDocument(sess.store.Key(), args)
			if err != nil {
				return err
			}
			if revision != "" {
				doc.Set(sess.store.RevisionField(), store.String(revision))
			}
			return sess.store.Delete(cmd.Context(), doc)
		},
	}
	cmd.Flags().StringVar(&revision, "revision", "", "only delete if the stored revision matches")
	return cmd
}
