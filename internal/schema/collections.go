package schema

// collections.go registers the target schemas importable through the batch
// engine. These mirror the record shapes owned by the AP/AR/payroll/job-cost
// services; the engine only needs field names, types and signatures.

func init() {
	Register(Collection{
		Key:   "ap_vendors",
		Group: "AP",
		Label: "Vendors",
		Fields: []Field{
			{Name: "vendorCode", Label: "Vendor Code", Type: FieldText, Required: true},
			{Name: "name", Label: "Name", Type: FieldText, Required: true},
			{Name: "taxId", Label: "Tax ID", Type: FieldText},
			{Name: "phone", Label: "Phone", Type: FieldText},
			{Name: "email", Label: "Email", Type: FieldText},
			{Name: "address", Label: "Address", Type: FieldText},
			{Name: "city", Label: "City", Type: FieldText},
			{Name: "state", Label: "State", Type: FieldText},
			{Name: "zip", Label: "Zip", Type: FieldText},
			{Name: "is1099", Label: "1099 Vendor", Type: FieldBool},
			{Name: "defaultCostCode", Label: "Default Cost Code", Type: FieldText},
		},
		Signature:   []string{"vendorCode", "taxId", "name"},
		DefaultKeys: []string{"vendorCode"},
	})

	Register(Collection{
		Key:   "ap_invoices",
		Group: "AP",
		Label: "Vendor Invoices",
		Fields: []Field{
			{Name: "invoiceNumber", Label: "Invoice #", Type: FieldText, Required: true},
			{Name: "vendorCode", Label: "Vendor Code", Type: FieldText, Required: true},
			{Name: "invoiceDate", Label: "Invoice Date", Type: FieldDate, Required: true},
			{Name: "dueDate", Label: "Due Date", Type: FieldDate},
			{Name: "amount", Label: "Amount", Type: FieldNumber, Required: true},
			{Name: "retainage", Label: "Retainage", Type: FieldNumber},
			{Name: "jobCode", Label: "Job Code", Type: FieldText},
			{Name: "costCode", Label: "Cost Code", Type: FieldText},
			{Name: "description", Label: "Description", Type: FieldText},
			{Name: "glAccount", Label: "GL Account", Type: FieldText},
		},
		Signature:   []string{"invoiceNumber", "vendorCode", "amount"},
		DefaultKeys: []string{"invoiceNumber", "vendorCode"},
	})

	Register(Collection{
		Key:   "ar_customers",
		Group: "AR",
		Label: "Customers",
		Fields: []Field{
			{Name: "customerCode", Label: "Customer Code", Type: FieldText, Required: true},
			{Name: "name", Label: "Name", Type: FieldText, Required: true},
			{Name: "contact", Label: "Contact", Type: FieldText},
			{Name: "phone", Label: "Phone", Type: FieldText},
			{Name: "email", Label: "Email", Type: FieldText},
			{Name: "address", Label: "Address", Type: FieldText},
			{Name: "terms", Label: "Terms", Type: FieldText},
		},
		Signature:   []string{"customerCode", "name"},
		DefaultKeys: []string{"customerCode"},
	})

	Register(Collection{
		Key:   "ar_invoices",
		Group: "AR",
		Label: "Customer Invoices",
		Fields: []Field{
			{Name: "invoiceNumber", Label: "Invoice #", Type: FieldText, Required: true},
			{Name: "customerCode", Label: "Customer Code", Type: FieldText, Required: true},
			{Name: "invoiceDate", Label: "Invoice Date", Type: FieldDate, Required: true},
			{Name: "dueDate", Label: "Due Date", Type: FieldDate},
			{Name: "amount", Label: "Amount", Type: FieldNumber, Required: true},
			{Name: "retainage", Label: "Retainage", Type: FieldNumber},
			{Name: "jobCode", Label: "Job Code", Type: FieldText},
			{Name: "description", Label: "Description", Type: FieldText},
		},
		Signature:   []string{"invoiceNumber", "customerCode", "amount"},
		DefaultKeys: []string{"invoiceNumber", "customerCode"},
	})

	Register(Collection{
		Key:   "payroll_employees",
		Group: "Payroll",
		Label: "Employees",
		Fields: []Field{
			{Name: "employeeId", Label: "Employee ID", Type: FieldText, Required: true},
			{Name: "firstName", Label: "First Name", Type: FieldText, Required: true},
			{Name: "lastName", Label: "Last Name", Type: FieldText, Required: true},
			{Name: "trade", Label: "Trade", Type: FieldText},
			{Name: "union", Label: "Union", Type: FieldText},
			{Name: "hourlyRate", Label: "Hourly Rate", Type: FieldNumber},
			{Name: "hireDate", Label: "Hire Date", Type: FieldDate},
			{Name: "active", Label: "Active", Type: FieldBool},
		},
		Signature:   []string{"employeeId", "hourlyRate"},
		DefaultKeys: []string{"employeeId"},
	})

	Register(Collection{
		Key:   "job_costs",
		Group: "Job Costing",
		Label: "Job Cost Entries",
		Fields: []Field{
			{Name: "jobCode", Label: "Job Code", Type: FieldText, Required: true},
			{Name: "costCode", Label: "Cost Code", Type: FieldText, Required: true},
			{Name: "phase", Label: "Phase", Type: FieldText},
			{Name: "transactionDate", Label: "Date", Type: FieldDate, Required: true},
			{Name: "amount", Label: "Amount", Type: FieldNumber, Required: true},
			{Name: "units", Label: "Units", Type: FieldNumber},
			{Name: "vendorCode", Label: "Vendor Code", Type: FieldText},
			{Name: "description", Label: "Description", Type: FieldText},
		},
		Signature:   []string{"jobCode", "costCode", "amount"},
		DefaultKeys: []string{"jobCode", "costCode", "transactionDate"},
	})

	Register(Collection{
		Key:   "gl_accounts",
		Group: "GL",
		Label: "Chart of Accounts",
		Fields: []Field{
			{Name: "accountNumber", Label: "Account #", Type: FieldText, Required: true},
			{Name: "name", Label: "Name", Type: FieldText, Required: true},
			{Name: "accountType", Label: "Type", Type: FieldText, Required: true},
			{Name: "parentAccount", Label: "Parent Account", Type: FieldText},
			{Name: "active", Label: "Active", Type: FieldBool},
		},
		Signature:   []string{"accountNumber", "accountType"},
		DefaultKeys: []string{"accountNumber"},
	})
}
