package registry

// DefaultCatalog returns the catalog written on first use.
func DefaultCatalog() *Catalog {
	return &Catalog{
		MCPServers: map[string][]Server{
			AlwaysActive: {
				{Name: "memory", Description: "Context retention across sessions", ConfigPath: "~/.claude/mcp_config.json"},
			},
			"databases": {
				{Name: "postgres", When: "SQL, relational data, vector storage", Description: "PostgreSQL database operations"},
				{Name: "mongodb", When: "Document store, flexible schema", Description: "MongoDB document database"},
				{Name: "redis", When: "Caching, pub/sub, real-time", Description: "Redis in-memory data store"},
			},
			"productivity": {
				{Name: "notion", When: "Documentation, notes, knowledge base", Description: "Notion workspace integration"},
				{Name: "linear", When: "Issue tracking, project management", Description: "Linear issue tracker"},
				{Name: "github", When: "Repository operations, PR management", Description: "GitHub integration"},
			},
			"web": {
				{Name: "puppeteer", When: "Web scraping, browser automation", Description: "Browser automation with Puppeteer"},
				{Name: "fetch", When: "HTTP requests, API calls", Description: "Web content fetching"},
			},
		},
		Skills: map[string][]Skill{
			"documents": {
				{Name: "docx", Path: "/mnt/skills/public/docx/SKILL.md", When: "Creating Word documents", Description: "Microsoft Word document creation"},
				{Name: "pdf", Path: "/mnt/skills/public/pdf/SKILL.md", When: "PDF manipulation", Description: "PDF generation and editing"},
				{Name: "xlsx", Path: "/mnt/skills/public/xlsx/SKILL.md", When: "Excel spreadsheets", Description: "Excel file operations"},
			},
			"development": {
				{Name: "mcp-builder", Path: "/mnt/skills/examples/mcp-builder/SKILL.md", When: "Creating new MCP servers", Description: "MCP server scaffolding"},
			},
		},
		Subagents: []Subagent{
			{Name: "github_specialist", Trigger: "git, repository, PR, commit, branch", Instructions: "Handle all git and GitHub operations", Description: "Git and GitHub expert"},
			{Name: "test_generator", Trigger: "test, testing, TDD, unit test, integration test", Instructions: "Generate comprehensive test suites", Description: "Test generation specialist"},
			{Name: "debugger", Trigger: "bug, error, issue, problem, crash, exception", Instructions: "Systematic debugging approach", Description: "Debugging expert"},
			{Name: "optimizer", Trigger: "optimize, performance, speed, slow, memory", Instructions: "Performance optimization and profiling", Description: "Performance optimization specialist"},
			{Name: "documenter", Trigger: "document, documentation, readme, comments", Instructions: "Create comprehensive documentation", Description: "Documentation specialist"},
		},
	}
}
