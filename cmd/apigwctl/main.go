// Command apigwctl reconciles API Gateway deployments and stages with the
// APIs declared in an HCL file.
package main

func main() {
	Execute()
}
