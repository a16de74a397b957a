package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"SmartTodo/sdk/go/smarttodo"
)

func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "使用用户名密码获取令牌并保存",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return errors.New("--username 和 --password 不能为空")
			}
			client, err := smarttodo.NewClient(serverURL)
			if err != nil {
				return err
			}
			tok, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			path := tokenPath()
			if err := saveToken(path, tok); err != nil {
				return fmt.Errorf("保存令牌失败: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已登录，令牌保存在 %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "用户名")
	cmd.Flags().StringVarP(&password, "password", "p", os.Getenv("SMARTTODO_PASSWORD"), "密码")
	return cmd
}

func listCmd() *cobra.Command {
	var opts smarttodo.ListOptions
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出待办",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			opts.Status = smarttodo.Filter(status)
			todos, err := client.ListTodos(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printTodos(cmd.OutOrStdout(), todos, time.Now())
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "all、active 或 completed")
	f.StringVar(&opts.Category, "category", "", "按分类过滤")
	f.StringVar(&opts.Priority, "priority", "", "按优先级过滤")
	f.StringSliceVar(&opts.Tags, "tag", nil, "按标签过滤，可重复")
	f.StringVarP(&opts.Query, "query", "q", "", "按文本搜索")
	f.StringVar(&opts.Sort, "sort", "", "排序方式")
	f.IntVar(&opts.Limit, "limit", 0, "最多返回条数")
	f.IntVar(&opts.Offset, "offset", 0, "跳过条数")
	return cmd
}

func addCmd() *cobra.Command {
	var in smarttodo.NewTodo
	var due string
	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "新建待办",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			in.Text = strings.Join(args, " ")
			if due != "" {
				ms, err := parseDue(due, time.Local)
				if err != nil {
					return err
				}
				in.DueDate = &ms
			}
			todo, err := client.CreateTodo(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), todo.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Category, "category", "", "分类名称")
	f.StringVar(&in.Priority, "priority", "", "low、medium 或 high")
	f.StringSliceVar(&in.Tags, "tag", nil, "标签，可重复")
	f.StringVar(&due, "due", "", "截止日期 YYYY-MM-DD")
	return cmd
}

func doneCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done <id>...",
		Short: "标记待办完成",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			completed := !undo
			for _, id := range args {
				if _, err := client.UpdateTodo(cmd.Context(), id, smarttodo.TodoUpdate{Completed: &completed}); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "恢复为未完成")
	return cmd
}

func editCmd() *cobra.Command {
	var text, category, priority, due string
	var tags []string
	var clearDue, clearPriority bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "修改待办",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var update smarttodo.TodoUpdate
			f := cmd.Flags()
			if f.Changed("text") {
				update.Text = &text
			}
			if f.Changed("category") {
				update.Category = &category
			}
			if f.Changed("tag") {
				update.Tags = tags
				update.ReplaceTags = true
			}
			switch {
			case clearPriority:
				update.ClearPriority = true
			case f.Changed("priority"):
				update.Priority = &priority
			}
			switch {
			case clearDue:
				update.ClearDueDate = true
			case f.Changed("due"):
				ms, err := parseDue(due, time.Local)
				if err != nil {
					return err
				}
				update.DueDate = &ms
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			todo, err := client.UpdateTodo(cmd.Context(), args[0], update)
			if err != nil {
				return err
			}
			return printTodos(cmd.OutOrStdout(), []smarttodo.Todo{todo}, time.Now())
		},
	}
	f := cmd.Flags()
	f.StringVar(&text, "text", "", "新的内容")
	f.StringVar(&category, "category", "", "新的分类")
	f.StringVar(&priority, "priority", "", "新的优先级")
	f.StringSliceVar(&tags, "tag", nil, "替换全部标签")
	f.StringVar(&due, "due", "", "新的截止日期 YYYY-MM-DD")
	f.BoolVar(&clearDue, "clear-due", false, "移除截止日期")
	f.BoolVar(&clearPriority, "clear-priority", false, "移除优先级")
	return cmd
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "删除待办",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := client.DeleteTodo(cmd.Context(), id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "删除全部已完成待办",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			n, err := client.ClearCompleted(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已删除 %d 条\n", n)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "显示待办统计",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "categories",
		Aliases: []string{"cat"},
		Short:   "管理分类",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出分类",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			list, err := client.ListCategories(cmd.Context())
			if err != nil {
				return err
			}
			return printCategories(cmd.OutOrStdout(), list)
		},
	})

	var in smarttodo.NewCategory
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "新建分类",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			in.Name = args[0]
			category, err := client.CreateCategory(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), category.ID)
			return nil
		},
	}
	add.Flags().StringVar(&in.Color, "color", "#6b7280", "颜色，#RRGGBB")
	add.Flags().StringVar(&in.Icon, "icon", "", "图标")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <name|id>",
		Short: "删除分类，其下待办移入 general",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			cache := smarttodo.NewCategoryCache(client)
			if err := cache.Refresh(cmd.Context()); err != nil {
				return err
			}
			id := args[0]
			if c, ok := cache.ByName(args[0]); ok {
				id = c.ID
			}
			return cache.Delete(cmd.Context(), id)
		},
	})
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "导入离线版本导出的待办 JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			legacy, err := smarttodo.DecodeLegacy(f)
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			result := smarttodo.ImportLegacy(cmd.Context(), client, legacy)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "已导入 %d/%d 条\n", result.Migrated, len(legacy))
			for _, msg := range result.Errors {
				fmt.Fprintf(out, "  %s\n", msg)
			}
			if !result.Success() {
				return fmt.Errorf("%d 条导入失败", len(result.Errors))
			}
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "实时输出待办变更",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			err = client.Watch(cmd.Context(), func(evt smarttodo.Event) error {
				fmt.Fprintln(out, describeEvent(evt))
				return nil
			})
			if err != nil && cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}
